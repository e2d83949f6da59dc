package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"QUIZHUB_PORT", "QUIZHUB_DB", "QUIZHUB_LOG_LEVEL",
		"QUIZHUB_POLL_INTERVAL", "QUIZHUB_CONCURRENT_JOBS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "quizhub.db", cfg.DBPath)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 1, cfg.ConcurrentJobs)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QUIZHUB_PORT", "9000")
	t.Setenv("QUIZHUB_ADMIN_KEY", "admin_secret")
	t.Setenv("QUIZHUB_POLL_INTERVAL", "12")
	t.Setenv("QUIZHUB_OTEL_ENABLED", "true")

	cfg := Load()
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "admin_secret", cfg.AdminKey)
	require.Equal(t, 12*time.Second, cfg.PollInterval)
	require.True(t, cfg.OTelEnabled)
}

func TestCORSOriginsFormats(t *testing.T) {
	t.Setenv("QUIZHUB_CORS_ORIGINS", `["https://a.com","https://b.com"]`)
	require.Equal(t, []string{"https://a.com", "https://b.com"}, Load().CORSOrigins)

	t.Setenv("QUIZHUB_CORS_ORIGINS", "https://a.com, https://b.com")
	require.Equal(t, []string{"https://a.com", "https://b.com"}, Load().CORSOrigins)

	t.Setenv("QUIZHUB_CORS_ORIGINS", "")
	require.Nil(t, Load().CORSOrigins)
}

func TestValidateServer(t *testing.T) {
	cfg := Load()
	cfg.AdminKey = ""
	require.Error(t, cfg.ValidateServer())

	cfg.AdminKey = "admin_x"
	require.NoError(t, cfg.ValidateServer())

	cfg.Port = -1
	require.Error(t, cfg.ValidateServer())
}

func TestValidateWorker(t *testing.T) {
	cfg := Load()
	cfg.OpenAIKey, cfg.AnthropicKey, cfg.GeminiKey = "", "", ""
	require.Error(t, cfg.ValidateWorker(), "a worker without provider keys cannot process jobs")

	cfg.AnthropicKey = "sk-test"
	require.NoError(t, cfg.ValidateWorker())

	cfg.ConcurrentJobs = 0
	require.Error(t, cfg.ValidateWorker())
}
