package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rongwang/groupledger/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("AUTH_CLIENT_ID", "adapter")
	t.Setenv("AUTH_CLIENT_SECRET_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("LEDGER_OWNER", "@Boss")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimit)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, config.StoragePostgres, cfg.Ledger.Storage)
	assert.Equal(t, "reports", cfg.Ledger.ReportDir)
	assert.True(t, cfg.Ledger.DistributedLock)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=password dbname=groupledger sslmode=disable", cfg.Database.GetDSN())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("LEDGER_OPERATORS", "alice,@bob")
	t.Setenv("LEDGER_STORAGE", "redis")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, []string{"alice", "@bob"}, cfg.Ledger.Operators)
	assert.Equal(t, config.StorageRedis, cfg.Ledger.Storage)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "localhost:6379", cfg.AsynqRedisOpt().Addr)
}

func TestLoadConfigValidation(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_OWNER", "")

	_, err := config.LoadConfig()
	assert.Error(t, err)

	setRequired(t)
	t.Setenv("LEDGER_STORAGE", "sqlite")
	_, err = config.LoadConfig()
	assert.Error(t, err)
}
