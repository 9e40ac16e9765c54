package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateConnectionString(t *testing.T) {
	conStr, err := GenerateConnectionString("localhost", "marketplace", "secret", "marketplace", "disable", 5432, 20, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "host=localhost port=5432 user=marketplace password=secret dbname=marketplace sslmode=disable connect_timeout=10 pool_max_conns=20", conStr)
}

func TestGenerateConnectionStringOmitsZeroOptions(t *testing.T) {
	conStr, err := GenerateConnectionString("db", "user", "pass", "name", "require", 5432, 0, 0)
	require.NoError(t, err)
	assert.NotContains(t, conStr, "connect_timeout")
	assert.NotContains(t, conStr, "pool_max_conns")
}

func TestGenerateConnectionStringValidation(t *testing.T) {
	cases := []struct {
		name     string
		host     string
		user     string
		password string
		dbName   string
		sslMode  string
		port     int
		expected error
	}{
		{"пустой хост", "", "u", "p", "db", "disable", 5432, ErrStorageEmptyHostName},
		{"неверный порт", "h", "u", "p", "db", "disable", 70000, ErrStorageInvalidPortNumber},
		{"пустой пользователь", "h", "", "p", "db", "disable", 5432, ErrStorageEmptyUsername},
		{"пустой пароль", "h", "u", "", "db", "disable", 5432, ErrStorageEmptyPassword},
		{"пустая база", "h", "u", "p", "", "disable", 5432, ErrStorageInvalidDatabaseName},
		{"пустой sslmode", "h", "u", "p", "db", "", 5432, ErrStorageInvalidSslMode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := GenerateConnectionString(tc.host, tc.user, tc.password, tc.dbName, tc.sslMode, tc.port, 10, time.Second)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}
