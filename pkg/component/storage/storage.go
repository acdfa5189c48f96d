// Package storage defines the common contract implemented by all
// storage component clients (PostgreSQL, Redis, Milvus, ...).
package storage

import (
	"context"
	"time"
)

// Client is the base interface for all storage clients.
type Client interface {
	// Name returns the storage type name, e.g. "postgres", "redis".
	Name() string

	// Ping checks if the connection to the storage backend is alive.
	Ping(ctx context.Context) error

	// Close closes the connection gracefully. Safe to call multiple times.
	Close() error

	// Health returns a HealthChecker bound to this client.
	Health() HealthChecker
}

// HealthChecker performs a health check on a storage backend.
type HealthChecker func() error

// HealthStatus represents the result of a health check operation.
type HealthStatus struct {
	// Name identifies the storage instance being checked.
	Name string

	// Healthy indicates whether the storage is functioning properly.
	Healthy bool

	// Latency measures how long the health check took to complete.
	Latency time.Duration

	// Error contains the error details if the health check failed.
	Error error
}

// Factory creates and initializes storage clients.
type Factory interface {
	// Create creates a new client, connected and verified.
	Create(ctx context.Context) (Client, error)
}
