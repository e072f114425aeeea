package config

import (
	"testing"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("ACCRUAL_CHARGE_DATE_CRITERIA", "")
	t.Setenv("ACCRUAL_ORGANISATION_START_DATE", "")
	t.Setenv("ACCRUAL_EXTERNAL_ID_AUTOGEN", "")
	t.Setenv("ACCRUAL_ROUNDING_MODE", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DueDate, cfg.ChargeAccrualDate)
	assert.Nil(t, cfg.OrganisationStartDate)
	assert.False(t, cfg.ExternalIDAutoGeneration)
	assert.Equal(t, money.HalfEven, cfg.RoundingMode)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ACCRUAL_CHARGE_DATE_CRITERIA", "Submitted-Date")
	t.Setenv("ACCRUAL_ORGANISATION_START_DATE", "2023-06-01")
	t.Setenv("ACCRUAL_EXTERNAL_ID_AUTOGEN", "true")
	t.Setenv("ACCRUAL_ROUNDING_MODE", "HALF_UP")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.SubmittedDatePolicy())
	require.NotNil(t, cfg.OrganisationStartDate)
	assert.True(t, cfg.OrganisationStartDate.Equal(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, cfg.ExternalIDAutoGeneration)
	assert.Equal(t, money.HalfUp, cfg.RoundingMode)
}

func TestFromEnvRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("ACCRUAL_CHARGE_DATE_CRITERIA", "whenever")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestWithersDoNotMutateReceiver(t *testing.T) {
	base := Default()
	gated := base.WithOrganisationStartDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	submitted := base.WithChargeAccrualDate(SubmittedDate)

	assert.Nil(t, base.OrganisationStartDate)
	assert.NotNil(t, gated.OrganisationStartDate)
	assert.False(t, base.SubmittedDatePolicy())
	assert.True(t, submitted.SubmittedDatePolicy())
}

func TestLoadServiceDefaults(t *testing.T) {
	t.Setenv("ACCRUAL_LISTEN_ADDR", "")
	t.Setenv("ACCRUAL_BATCH_INTERVAL", "")
	t.Setenv("ACCRUAL_DB_DRIVER", "")

	s, err := LoadService()
	require.NoError(t, err)
	assert.Equal(t, ":8080", s.ListenAddr)
	assert.Equal(t, "sqlite3", s.DBDriver)
	assert.Equal(t, 24*time.Hour, s.BatchInterval)
}

func TestLoadServiceRejectsBadInterval(t *testing.T) {
	t.Setenv("ACCRUAL_BATCH_INTERVAL", "-1s")
	_, err := LoadService()
	assert.Error(t, err)
}
