package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/money"
)

// ChargeAccrualDate selects the charge recognition policy.
type ChargeAccrualDate string

const (
	DueDate       ChargeAccrualDate = "due-date"
	SubmittedDate ChargeAccrualDate = "submitted-date"
)

const dateLayout = "2006-01-02"

// Config is the immutable set of platform settings an accrual pass depends on.
// It is passed by value into every computation.
type Config struct {
	ChargeAccrualDate        ChargeAccrualDate
	OrganisationStartDate    *time.Time // nil disables the gate
	ExternalIDAutoGeneration bool
	RoundingMode             money.RoundingMode
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		ChargeAccrualDate: DueDate,
		RoundingMode:      money.HalfEven,
	}
}

// SubmittedDatePolicy reports whether charges are recognized on their submitted date.
func (c Config) SubmittedDatePolicy() bool {
	return c.ChargeAccrualDate == SubmittedDate
}

// WithOrganisationStartDate returns a copy of c gated on the given date.
func (c Config) WithOrganisationStartDate(d time.Time) Config {
	c.OrganisationStartDate = &d
	return c
}

// WithChargeAccrualDate returns a copy of c using policy p.
func (c Config) WithChargeAccrualDate(p ChargeAccrualDate) Config {
	c.ChargeAccrualDate = p
	return c
}

func (c Config) Validate() error {
	switch c.ChargeAccrualDate {
	case DueDate, SubmittedDate:
	default:
		return fmt.Errorf("invalid charge accrual date criteria %q", c.ChargeAccrualDate)
	}
	return nil
}

// Service holds process-level settings for cmd/api.
type Service struct {
	Engine          Config
	ListenAddr      string
	DBDriver        string
	DBDSN           string
	RedisAddr       string
	JournalTarget   string
	BatchInterval   time.Duration
	TriggerRPS      float64
	TriggerBurst    int
	LogLevel        string
	SnowflakeNodeID int64
}

// FromEnv reads the engine settings from ACCRUAL_* variables.
func FromEnv() (Config, error) {
	cfg := Default()
	if v := env("ACCRUAL_CHARGE_DATE_CRITERIA"); v != "" {
		cfg.ChargeAccrualDate = ChargeAccrualDate(strings.ToLower(v))
	}
	if v := env("ACCRUAL_ORGANISATION_START_DATE"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCRUAL_ORGANISATION_START_DATE: %w", err)
		}
		cfg.OrganisationStartDate = &d
	}
	if v := env("ACCRUAL_EXTERNAL_ID_AUTOGEN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCRUAL_EXTERNAL_ID_AUTOGEN: %w", err)
		}
		cfg.ExternalIDAutoGeneration = b
	}
	if v := env("ACCRUAL_ROUNDING_MODE"); v != "" {
		mode, err := money.ParseRoundingMode(v)
		if err != nil {
			return Config{}, err
		}
		cfg.RoundingMode = mode
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadService reads the full process configuration.
func LoadService() (Service, error) {
	engine, err := FromEnv()
	if err != nil {
		return Service{}, err
	}
	s := Service{
		Engine:          engine,
		ListenAddr:      envOr("ACCRUAL_LISTEN_ADDR", ":8080"),
		DBDriver:        envOr("ACCRUAL_DB_DRIVER", "sqlite3"),
		DBDSN:           envOr("ACCRUAL_DB_DSN", "loanaccrual.db"),
		RedisAddr:       env("ACCRUAL_REDIS_ADDR"),
		JournalTarget:   env("ACCRUAL_JOURNAL_TARGET"),
		BatchInterval:   24 * time.Hour,
		TriggerRPS:      5,
		TriggerBurst:    10,
		LogLevel:        envOr("ACCRUAL_LOG_LEVEL", "info"),
		SnowflakeNodeID: 1,
	}
	if v := env("ACCRUAL_BATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Service{}, fmt.Errorf("invalid ACCRUAL_BATCH_INTERVAL: %w", err)
		}
		s.BatchInterval = d
	}
	if v := env("ACCRUAL_TRIGGER_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Service{}, fmt.Errorf("invalid ACCRUAL_TRIGGER_RPS: %w", err)
		}
		s.TriggerRPS = f
	}
	if v := env("ACCRUAL_TRIGGER_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Service{}, fmt.Errorf("invalid ACCRUAL_TRIGGER_BURST: %w", err)
		}
		s.TriggerBurst = n
	}
	if v := env("ACCRUAL_SNOWFLAKE_NODE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Service{}, fmt.Errorf("invalid ACCRUAL_SNOWFLAKE_NODE: %w", err)
		}
		s.SnowflakeNodeID = n
	}
	if s.BatchInterval <= 0 {
		return Service{}, fmt.Errorf("batch interval must be positive, got %s", s.BatchInterval)
	}
	return s, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envOr(key, def string) string {
	if v := env(key); v != "" {
		return v
	}
	return def
}
