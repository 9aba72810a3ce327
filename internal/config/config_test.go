package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.True(t, cfg.Dev())
	require.Equal(t, ":8080", cfg.Addr())
	require.Equal(t, "0.05", cfg.CommissionRate.String())
	require.Equal(t, "0.25", cfg.DepositRate.String())
	require.Equal(t, "platform", cfg.PlatformAccountID)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout)
	require.Equal(t, 8, cfg.SweepConcurrency)
	require.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("COMMISSION_RATE", "0.10")
	t.Setenv("SWEEP_CONCURRENCY", "2")
	t.Setenv("REQUEST_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "0.1", cfg.CommissionRate.String())
	require.Equal(t, 2, cfg.SweepConcurrency)
	require.Equal(t, 3*time.Second, cfg.RequestTimeout)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auction.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env: prod\njwt_secret: s3cret\ndeposit_rate: \"0.2\"\n"), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("PLATFORM_ACCOUNT_ID", "house")

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.Dev())
	require.Equal(t, "s3cret", cfg.JWTSecret)
	require.Equal(t, "0.2", cfg.DepositRate.String())
	require.Equal(t, "house", cfg.PlatformAccountID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"commission one":      {"COMMISSION_RATE": "1"},
		"negative deposit":    {"DEPOSIT_RATE": "-0.1"},
		"not a number":        {"COMMISSION_RATE": "five"},
		"prod without jwt":    {"ENV": "prod"},
		"unknown env":         {"ENV": "staging", "JWT_SECRET": "x"},
		"no sweep workers":    {"SWEEP_CONCURRENCY": "0"},
		"missing config file": {FileEnv: "/nonexistent/auction.yaml"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
