// Package backend selects the spreadsheet store behind the read and write
// services and the optional event bus that keeps instances coherent.
package backend

import (
	"context"

	"sheetsync/internal/amqp"
	"sheetsync/internal/sheets"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the store provider and the resources that go with it.
type BackendResult struct {
	Provider sheets.StoreProvider
	// Events is nil when AMQP is disabled or unreachable.
	Events  *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Google Sheets specific
	GoogleSpreadsheetID       string
	GoogleServiceAccountEmail string
	GooglePrivateKey          string
	GoogleServiceAccountJSON  string

	// Memory backend specific
	DataDirectory string

	// Optional event bus
	AMQPURL      string
	AMQPExchange string
}

// BackendType represents the type of backend
type BackendType string

const (
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
