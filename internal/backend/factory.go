package backend

import (
	"context"
	"fmt"
	"log/slog"

	"sheetsync/internal/amqp"
	"sheetsync/internal/sheets"
	gsheet "sheetsync/internal/sheets/google"
	"sheetsync/internal/sheets/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var provider sheets.StoreProvider
	switch config.Type {
	case SheetsBackend:
		provider = f.createSheetsProvider(config)
	case MemoryBackend:
		provider = f.createMemoryProvider(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	result := &BackendResult{Provider: provider}

	// AMQP is optional; a broker that is down at startup only costs
	// cross-instance invalidation.
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			f.logger.InfoContext(ctx, "Initialized AMQP client", "exchange", config.AMQPExchange)
			result.Events = client
			result.Cleanup = client.Close
		}
	}

	return result, nil
}

func (f *DefaultFactory) createSheetsProvider(config Config) sheets.StoreProvider {
	provider := gsheet.NewProvider(config.GoogleSpreadsheetID, gsheet.Credentials{
		Email:      config.GoogleServiceAccountEmail,
		PrivateKey: config.GooglePrivateKey,
		JSON:       config.GoogleServiceAccountJSON,
	})
	f.logger.Info("Initialized Google Sheets backend",
		"spreadsheet_configured", config.GoogleSpreadsheetID != "")
	return provider
}

func (f *DefaultFactory) createMemoryProvider(config Config) sheets.StoreProvider {
	var store *memory.Store
	if config.DataDirectory != "" {
		store = memory.NewFromDir(config.DataDirectory)
	} else {
		store = memory.New()
	}

	f.logger.Info("Initialized memory backend", "data_directory", config.DataDirectory)
	return sheets.StaticProvider{RangeStore: store}
}
