package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, PushLog, cfg.PushProvider)
	assert.Equal(t, 4, cfg.PushParallelism)
	assert.Equal(t, 30*time.Second, cfg.PushBreakerOpenFor)
	assert.Equal(t, "disable", cfg.DBSSLMode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("MONGODB_DATABASE", "bloodlink_test")
	t.Setenv("PUSH_PROVIDER", "sns")
	t.Setenv("SNS_PLATFORM_APPLICATION_ARN", "arn:aws:sns:us-east-1:000000000000:app/GCM/bloodlink")
	t.Setenv("PUSH_PARALLELISM", "8")
	t.Setenv("SUBMIT_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, BackendMongo, cfg.StoreBackend)
	assert.Equal(t, "bloodlink_test", cfg.MongoDatabase)
	assert.Equal(t, PushSNS, cfg.PushProvider)
	assert.Equal(t, 8, cfg.PushParallelism)
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad port", map[string]string{"PORT": "http"}, "parse config"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "dynamo"}, "STORE_BACKEND"},
		{"sns without arn", map[string]string{"PUSH_PROVIDER": "sns"}, "SNS_PLATFORM_APPLICATION_ARN"},
		{"zero parallelism", map[string]string{"PUSH_PARALLELISM": "0"}, "PUSH_PARALLELISM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
