package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("JWT_SIGNING_KEY", testKey)

	cfg := LoadConfig()
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Token.RefreshTTL)
	assert.Equal(t, 10*time.Minute, cfg.Verification.CodeTTL)
	assert.False(t, cfg.Verification.TestMode)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", testKey)
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("VERIFICATION_TEST_MODE", "true")
	t.Setenv("VERIFICATION_TEST_IDENTIFIERS", "254700000001, 254700000002")
	t.Setenv("VERIFICATION_BYPASS_CODE", "123456")
	t.Setenv("JWT_ACCESS_TTL", "5m")

	cfg := LoadConfig()
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Token.AccessTTL)
	assert.True(t, cfg.Verification.IsTestIdentifier("254700000002"))
	assert.False(t, cfg.Verification.IsTestIdentifier("254700000003"))
	require.NoError(t, cfg.Validate())
}

func TestTestIdentifiersAreNormalized(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", testKey)
	t.Setenv("VERIFICATION_TEST_IDENTIFIERS", "+254700000001, +234 (801) 234-5678, QA@Example.com")

	cfg := LoadConfig()
	assert.Equal(t, []string{"254700000001", "2348012345678", "qa@example.com"}, cfg.Verification.TestIdentifiers)
	assert.True(t, cfg.Verification.IsTestIdentifier("254700000001"))
	assert.True(t, cfg.Verification.IsTestIdentifier("+254700000001"))
	assert.True(t, cfg.Verification.IsTestIdentifier("2348012345678"))
	assert.True(t, cfg.Verification.IsTestIdentifier("qa@example.com"))
	assert.False(t, cfg.Verification.IsTestIdentifier("254700000009"))

	// values set in code are compared the same way
	v := VerificationConfig{TestIdentifiers: []string{"+254 700 000002"}}
	assert.True(t, v.IsTestIdentifier("254700000002"))
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", testKey)
	base := LoadConfig

	t.Run("short signing key", func(t *testing.T) {
		cfg := base()
		cfg.Token.SigningKey = "short"
		assert.ErrorContains(t, cfg.Validate(), "JWT_SIGNING_KEY")
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base()
		cfg.Store.Driver = "mysql"
		assert.ErrorContains(t, cfg.Validate(), "STORE_DRIVER")
	})

	t.Run("test mode forbidden in production", func(t *testing.T) {
		cfg := base()
		cfg.Environment = EnvProduction
		cfg.Store.Driver = StorePostgres
		cfg.KMS.MasterKey = "c2VjcmV0"
		cfg.Verification.TestMode = true
		cfg.Verification.BypassCode = "000000"
		cfg.Verification.TestIdentifiers = []string{"254700000001"}
		assert.ErrorContains(t, cfg.Validate(), "forbidden in production")
	})

	t.Run("bypass code must be six digits", func(t *testing.T) {
		cfg := base()
		cfg.Verification.TestMode = true
		cfg.Verification.BypassCode = "12ab"
		cfg.Verification.TestIdentifiers = []string{"254700000001"}
		assert.ErrorContains(t, cfg.Validate(), "VERIFICATION_BYPASS_CODE")
	})

	t.Run("production needs a key source", func(t *testing.T) {
		cfg := base()
		cfg.Environment = EnvProduction
		cfg.Store.Driver = StoreScylla
		cfg.KMS.MasterKey = ""
		assert.ErrorContains(t, cfg.Validate(), "ENCRYPTION_MASTER_KEY")
	})
}
