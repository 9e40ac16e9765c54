package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "marketplace-service", cfg.AppName)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "marketplace", cfg.Postgres.DBName)
	assert.Equal(t, 10, cfg.Postgres.PoolSize)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "marketplace-service", cfg.Kafka.GroupID)
	assert.Equal(t, "marketplace-sync-commands", cfg.Kafka.CommandTopic)
	assert.Equal(t, "marketplace-sync-events", cfg.Kafka.EventsTopic)
	assert.Equal(t, "marketplace-sync-dlq", cfg.Kafka.DeadLetterTopic)

	assert.Equal(t, 3, cfg.Wildberries.MaxRetries)
	assert.Equal(t, 0.8, cfg.Wildberries.BackoffFactor)
	assert.Equal(t, 60*time.Second, cfg.Wildberries.ReadTimeout)
	assert.Equal(t, 10000, cfg.Wildberries.MaxPages)
	assert.Empty(t, cfg.Wildberries.Token)

	assert.Equal(t, 30*time.Second, cfg.Ozon.Timeout)
	assert.Empty(t, cfg.Ozon.ClientID)

	assert.Equal(t, 100, cfg.Sync.PageLimit)
	assert.Equal(t, 5*time.Minute, cfg.Sync.CacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.Sync.LockTTL)

	assert.Equal(t, 1000, cfg.Security.RateLimitPerMinute)
	assert.False(t, cfg.Security.Keycloak.Enabled)
	assert.Equal(t, "marketplace-service", cfg.Security.Keycloak.ClientID)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("WB_API_TOKEN", "token-123")
	t.Setenv("OZON_CLIENT_ID", "client-7")
	t.Setenv("OZON_API_KEY", "key-7")
	t.Setenv("KAFKA_COMMAND_TOPIC", "custom-commands")
	t.Setenv("SYNC_PAGE_LIMIT", "50")
	t.Setenv("KEYCLOAK_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "token-123", cfg.Wildberries.Token)
	assert.Equal(t, "client-7", cfg.Ozon.ClientID)
	assert.Equal(t, "key-7", cfg.Ozon.APIKey)
	assert.Equal(t, "custom-commands", cfg.Kafka.CommandTopic)
	assert.Equal(t, 50, cfg.Sync.PageLimit)
	assert.True(t, cfg.Security.Keycloak.Enabled)
}

func TestKeycloakConfigMapping(t *testing.T) {
	kc := KeycloakConfig{
		ServerURL:    "https://sso.example.com",
		Realm:        "gomarket",
		ClientID:     "marketplace-service",
		ClientSecret: "secret",
	}

	mapped := kc.GetKeycloakConfig()
	assert.Equal(t, "https://sso.example.com", mapped.ServerURL)
	assert.Equal(t, "gomarket", mapped.Realm)
	assert.Equal(t, "marketplace-service", mapped.ClientID)
	assert.Equal(t, "secret", mapped.ClientSecret)
}
