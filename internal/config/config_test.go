package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithoutAConfigFile(t *testing.T) {
	cfg, err := Load(os.DevNull)
	require.NoError(t, err)

	require.Equal(t, "localhost", cfg.Postgres().Host)
	require.Equal(t, 5432, cfg.Postgres().Port)
	require.True(t, cfg.Collecting())
	require.True(t, cfg.Processing())
	require.Equal(t, 10, cfg.CollectorConcurrency())
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("POSTGRES__HOST", "db.internal")
	t.Setenv("COLLECTOR_CONCURRENCY", "25")

	cfg, err := Load(os.DevNull)
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.Postgres().Host)
	require.Equal(t, 25, cfg.CollectorConcurrency())
}

func TestGetFallsBackWhenKeyUnset(t *testing.T) {
	cfg, err := Load(os.DevNull)
	require.NoError(t, err)

	require.Equal(t, "fallback", cfg.Get("smb_servers.primary.share", "fallback"))
}
