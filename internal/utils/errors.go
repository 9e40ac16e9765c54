package utils

import "errors"

// ----------------- storage ------------------
var (
	ErrStorageEmptyHostName       = errors.New("host name is empty")
	ErrStorageInvalidPortNumber   = errors.New("port number is empty")
	ErrStorageEmptyUsername       = errors.New("username is empty")
	ErrStorageEmptyPassword       = errors.New("password is empty")
	ErrStorageInvalidDatabaseName = errors.New("database name is empty")
	ErrStorageInvalidSslMode      = errors.New("SSL mode is invalid")
	ErrStorageInvalidPoolSize     = errors.New("pool size is invalid")
	ErrStorageInvalidTimeout      = errors.New("timeout is invalid")
)

// ----------------- sync service ------------------
var (
	ErrUnsupportedSource    = errors.New("unsupported marketplace source")
	ErrGatewayNotConfigured = errors.New("marketplace gateway is not configured")
	ErrSyncAlreadyRunning   = errors.New("sync is already running for this source")
	ErrListingNotFound      = errors.New("listing not found")
)
