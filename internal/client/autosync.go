package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AutoSyncConfig holds configuration for the background sync loop
type AutoSyncConfig struct {
	// Interval is how often to sync or refresh (default: 30s)
	Interval time.Duration

	// Recurring materializes due recurring transactions before each sync
	Recurring bool
}

// DefaultAutoSyncConfig returns sensible defaults
func DefaultAutoSyncConfig() AutoSyncConfig {
	return AutoSyncConfig{
		Interval:  30 * time.Second,
		Recurring: true,
	}
}

// AutoSync periodically pushes pending changes, or pulls the server
// snapshot when there is nothing to push.
type AutoSync struct {
	orch   *Orchestrator
	config AutoSyncConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewAutoSync(orch *Orchestrator, config AutoSyncConfig) *AutoSync {
	if config.Interval <= 0 {
		config.Interval = DefaultAutoSyncConfig().Interval
	}
	return &AutoSync{orch: orch, config: config}
}

// Start begins the loop. Returns an error if already running.
func (a *AutoSync) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("auto sync is already running")
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	a.mu.Unlock()

	go a.runLoop(ctx)

	slog.InfoContext(ctx, "Auto sync started", "interval", a.config.Interval)
	return nil
}

// Stop signals the loop and waits for the current cycle to finish.
func (a *AutoSync) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	stopCh, doneCh := a.stopCh, a.doneCh
	a.running = false
	a.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Auto sync stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Auto sync stop timed out")
		return ctx.Err()
	}
}

func (a *AutoSync) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *AutoSync) runLoop(ctx context.Context) {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	a.Tick(ctx)

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs one cycle. Held conflicts block syncing until resolved.
func (a *AutoSync) Tick(ctx context.Context) {
	if a.orch.State() == Resolving {
		slog.WarnContext(ctx, "Auto sync paused: conflicts need resolution")
		return
	}

	if a.config.Recurring {
		if _, err := a.orch.ProcessRecurring(ctx, a.orch.now()); err != nil {
			slog.ErrorContext(ctx, "Recurring processing failed", "error", err)
		}
	}

	if a.orch.PendingCount() == 0 {
		if err := a.orch.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.WarnContext(ctx, "Auto refresh failed", "error", err)
		}
		return
	}

	result, err := a.orch.Sync(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.WarnContext(ctx, "Auto sync failed", "error", err)
		}
		return
	}
	slog.DebugContext(ctx, "Auto sync cycle finished", "outcome", string(result.Outcome))
}
