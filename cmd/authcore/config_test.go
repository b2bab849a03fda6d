package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SESSION_BACKEND", "")
	t.Setenv("RATE_LIMIT_RPM", "")

	cfg, err := loadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, backendRedis, cfg.SessionBackend)
	assert.Equal(t, 60, cfg.RateLimitRPM)
	assert.False(t, cfg.Production())
}

func TestLoadServerConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"postgres backend without database", map[string]string{"SESSION_BACKEND": "postgres", "DATABASE_URL": ""}},
		{"unknown backend", map[string]string{"SESSION_BACKEND": "memcached"}},
		{"production without database", map[string]string{"APP_ENV": "production", "DATABASE_URL": ""}},
		{"bad rate limit", map[string]string{"RATE_LIMIT_RPM": "lots"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("APP_ENV", "")
			t.Setenv("SESSION_BACKEND", "")
			t.Setenv("RATE_LIMIT_RPM", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := loadServerConfig()
			assert.Error(t, err)
		})
	}
}
