package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "marketsync", cfg.App.Name)
	require.Equal(t, "1.0.0", cfg.App.SchemaVersion)
	require.Equal(t, "5432", cfg.Database.Port)
	require.Equal(t, 8, cfg.Sync.DispatchConcurrency)
	require.Equal(t, 50, cfg.Sync.MatcherConfidenceThreshold)
	require.Equal(t, "", cfg.Sync.DefaultPriceAuthority)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SYNC_DISPATCH_CONCURRENCY", "16")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 16, cfg.Sync.DispatchConcurrency)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "localhost", Port: "5432", User: "sync", Password: "secret", Database: "marketsync", SSLMode: "disable"}
	require.Equal(t, "host=localhost port=5432 user=sync password=secret dbname=marketsync sslmode=disable", d.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "localhost", Port: "6379"}
	require.Equal(t, "localhost:6379", r.Addr())
}
