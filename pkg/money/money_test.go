package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usd = Currency{Code: "USD", DecimalPlaces: 2, Rounding: HalfEven}

func TestRoundingModes(t *testing.T) {
	d := decimal.RequireFromString("2.345")
	cases := map[RoundingMode]string{
		HalfEven: "2.34",
		HalfUp:   "2.35",
		Up:       "2.35",
		Down:     "2.34",
		Ceiling:  "2.35",
		Floor:    "2.34",
	}
	for mode, want := range cases {
		got := mode.Round(d, 2)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s: got %s want %s", mode, got, want)
	}
}

func TestParseRoundingMode(t *testing.T) {
	mode, err := ParseRoundingMode(" half_up ")
	require.NoError(t, err)
	assert.Equal(t, HalfUp, mode)

	_, err = ParseRoundingMode("sideways")
	assert.Error(t, err)
}

func TestOfRoundsToCurrencyPrecision(t *testing.T) {
	m := Of(usd, decimal.RequireFromString("10.005"))
	assert.Equal(t, "10.00", m.Amount.StringFixed(2))

	yen := Currency{Code: "JPY", DecimalPlaces: 0, Rounding: HalfUp}
	assert.True(t, Of(yen, decimal.RequireFromString("99.5")).Amount.Equal(decimal.NewFromInt(100)))
}

func TestPlusMinusRequireSameCurrency(t *testing.T) {
	a := Of(usd, decimal.NewFromInt(10))
	b := Of(usd, decimal.RequireFromString("2.50"))

	sum, err := a.Plus(b)
	require.NoError(t, err)
	assert.Equal(t, "12.50 USD", sum.String())

	diff, err := a.Minus(b)
	require.NoError(t, err)
	assert.True(t, diff.Amount.Equal(decimal.RequireFromString("7.5")))

	eur := Of(Currency{Code: "EUR", DecimalPlaces: 2}, decimal.NewFromInt(1))
	_, err = a.Plus(eur)
	assert.True(t, errors.Is(err, ErrCurrencyMismatch))
}

func TestNegativeToZero(t *testing.T) {
	m := Of(usd, decimal.NewFromInt(-3))
	assert.True(t, m.NegativeToZero().IsZero())
	assert.True(t, Of(usd, decimal.NewFromInt(3)).NegativeToZero().IsGreaterThanZero())
}

func TestCurrencyValidate(t *testing.T) {
	assert.NoError(t, usd.Validate())
	assert.ErrorIs(t, Currency{}.Validate(), ErrMissingCurrency)
}
