package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrMissingCurrency  = errors.New("missing currency")
)

// RoundingMode selects how amounts are brought to a currency's precision.
type RoundingMode int

const (
	HalfEven RoundingMode = iota
	HalfUp
	Up
	Down
	Ceiling
	Floor
)

var roundingNames = map[RoundingMode]string{
	HalfEven: "HALF_EVEN",
	HalfUp:   "HALF_UP",
	Up:       "UP",
	Down:     "DOWN",
	Ceiling:  "CEILING",
	Floor:    "FLOOR",
}

func (m RoundingMode) String() string {
	if s, ok := roundingNames[m]; ok {
		return s
	}
	return fmt.Sprintf("RoundingMode(%d)", int(m))
}

// ParseRoundingMode accepts the platform names (HALF_EVEN, HALF_UP, ...), case-insensitive.
func ParseRoundingMode(s string) (RoundingMode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for mode, n := range roundingNames {
		if n == name {
			return mode, nil
		}
	}
	return HalfEven, fmt.Errorf("unknown rounding mode %q", s)
}

// Round applies the mode at the given number of decimal places.
func (m RoundingMode) Round(d decimal.Decimal, places int32) decimal.Decimal {
	switch m {
	case HalfUp:
		return d.Round(places)
	case Up:
		return d.RoundUp(places)
	case Down:
		return d.RoundDown(places)
	case Ceiling:
		return d.RoundCeil(places)
	case Floor:
		return d.RoundFloor(places)
	default:
		return d.RoundBank(places)
	}
}

// Currency carries the monetary metadata every amount is scoped to.
type Currency struct {
	Code          string       `json:"code"`
	DecimalPlaces int32        `json:"decimal_places"`
	Rounding      RoundingMode `json:"rounding_mode"`
}

// Validate reports a currency that cannot scope an amount.
func (c Currency) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return ErrMissingCurrency
	}
	if c.DecimalPlaces < 0 {
		return fmt.Errorf("currency %s: negative decimal places %d", c.Code, c.DecimalPlaces)
	}
	return nil
}

// Round brings d to the currency's precision using its rounding mode.
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return c.Rounding.Round(d, c.DecimalPlaces)
}

// Money is an amount in a single currency, always held at the currency's precision.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// Of rounds amount into currency c.
func Of(c Currency, amount decimal.Decimal) Money {
	return Money{Amount: c.Round(amount), Currency: c}
}

// Zero returns a zero amount in currency c.
func Zero(c Currency) Money {
	return Money{Amount: decimal.Zero, Currency: c}
}

func (m Money) sameCurrency(o Money) error {
	if m.Currency.Code != o.Currency.Code {
		return fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, m.Currency.Code, o.Currency.Code)
	}
	return nil
}

// Plus adds two amounts of the same currency.
func (m Money) Plus(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Of(m.Currency, m.Amount.Add(o.Amount)), nil
}

// Minus subtracts o from m; both must share a currency.
func (m Money) Minus(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Of(m.Currency, m.Amount.Sub(o.Amount)), nil
}

// NegativeToZero floors the amount at zero.
func (m Money) NegativeToZero() Money {
	if m.Amount.IsNegative() {
		return Zero(m.Currency)
	}
	return m
}

func (m Money) IsZero() bool            { return m.Amount.IsZero() }
func (m Money) IsGreaterThanZero() bool { return m.Amount.IsPositive() }

// IsLessThan compares amounts, ignoring currency mismatch (callers check with Plus/Minus).
func (m Money) IsLessThan(o Money) bool { return m.Amount.LessThan(o.Amount) }

func (m Money) Equal(o Money) bool {
	return m.Currency.Code == o.Currency.Code && m.Amount.Equal(o.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(m.Currency.DecimalPlaces) + " " + m.Currency.Code
}
