package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("AZURE_APP_TENANT_ID", "tenant")
	t.Setenv("AZURE_APP_ID", "client")
	t.Setenv("AZURE_APP_SECRET", "secret")
	t.Setenv("EMAIL_DOMAIN", "Example.no")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Europe/Oslo", cfg.TimeZone)
	assert.Equal(t, "always", cfg.StatusPolicy)
	assert.Equal(t, time.Second, cfg.InterBlockDelay)
	assert.Equal(t, 5*time.Minute, cfg.ActivateInterval)
	assert.Equal(t, 100, cfg.GraphPageSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.CORSMaxAge)
	assert.Equal(t, "@skole.example.no", cfg.StudentUPNSuffix())
	assert.Contains(t, cfg.Issuers(), "https://sts.windows.net/tenant/")
	assert.Equal(t, "https://login.microsoftonline.com/tenant/oauth2/v2.0/token", cfg.TokenURL())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SKIPVALIDATION", "Fylkeskommunen,OF-ADM")
	t.Setenv("STATUS_POLICY", "on-success")
	t.Setenv("INTER_BLOCK_DELAY", "250ms")
	t.Setenv("NETTPSERRE_EKSAMEN_GROUP_ID", "group-eksamen")
	t.Setenv("NETTPSERRE_OFFLINE_GROUP_ID", "group-offline")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"Fylkeskommunen", "OF-ADM"}, cfg.AllowedCompanies)
	assert.Equal(t, 250*time.Millisecond, cfg.InterBlockDelay)
	assert.Equal(t, map[string]string{
		"eksamen":   "group-eksamen",
		"fullBlock": "group-offline",
	}, cfg.BlockGroups())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{name: "postgres without password", env: map[string]string{"STORE_BACKEND": "postgres"}, errSubstr: "DB_PASSWORD"},
		{name: "mongo without uri", env: map[string]string{"STORE_BACKEND": "mongo"}, errSubstr: "MONGODB_CONNECTION_STRING"},
		{name: "unknown backend", env: map[string]string{"STORE_BACKEND": "redis"}, errSubstr: "unknown STORE_BACKEND"},
		{name: "unknown policy", env: map[string]string{"STATUS_POLICY": "sometimes"}, errSubstr: "STATUS_POLICY"},
		{name: "bad zone", env: map[string]string{"TIME_ZONE": "Mars/Olympus"}, errSubstr: "TIME_ZONE"},
		{name: "page size", env: map[string]string{"GRAPH_PAGE_SIZE": "1000"}, errSubstr: "GRAPH_PAGE_SIZE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.NoError(t, err)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}
