package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/switchboard/internal/authfile"
	"github.com/florianilch/switchboard/internal/events"
	"github.com/florianilch/switchboard/internal/persist"
	"github.com/florianilch/switchboard/internal/reflock"
	"github.com/florianilch/switchboard/internal/scheduler"
	"github.com/florianilch/switchboard/internal/server"
	"github.com/florianilch/switchboard/internal/store"
	"github.com/florianilch/switchboard/internal/ticket"
	"github.com/florianilch/switchboard/internal/usage"
)

// QuarantineFixer performs the privileged local operation that clears the
// Codex CLI's quarantine flag. The operation itself is platform glue and is
// injected; the app only enforces the ticket gate around it.
type QuarantineFixer func(ctx context.Context) error

// App orchestrates the account store, the external credential file, the quota
// fetcher, the background scheduler and the local API server.
type App struct {
	cfg *Config

	// mu guards the store and its persistence. Never held across a network
	// call: operations snapshot under the lock, await, then re-acquire to
	// commit.
	mu       sync.Mutex
	store    *store.AccountStore
	backend  persist.Backend
	authFile *authfile.File

	locks   *reflock.Manager
	tickets *ticket.Box
	usage   *usage.Fetcher
	sched   *scheduler.Scheduler
	events  *events.Hub
	fixer   QuarantineFixer

	server *server.Server
}

// New creates a new App instance. The account store document is loaded
// eagerly so a corrupt store fails startup instead of a later operation.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	backend, err := cfg.Store.NewBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to create store backend: %w", err)
	}

	st, err := store.Load(backend)
	if err != nil {
		return nil, fmt.Errorf("failed to load account store: %w", err)
	}

	authFile, err := authfile.New(cfg.Codex.AuthFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve auth file: %w", err)
	}

	a := &App{
		cfg:      cfg,
		store:    st,
		backend:  backend,
		authFile: authFile,
		locks:    reflock.NewManager(),
		tickets:  ticket.NewBox(),
		events:   events.NewHub(),
		usage:    usage.NewFetcher(usage.WithBaseURL(cfg.Usage.BaseURL)),
	}

	a.sched = scheduler.New(a.schedulerSettings, a.schedulerSync, a.notifyAccountsUpdated)

	srv, err := server.New(a)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	a.server = srv

	return a, nil
}

// SetQuarantineFixer installs the privileged operation guarded by fix
// tickets. Without one, FixQuarantine fails after consuming the ticket.
func (a *App) SetQuarantineFixer(fixer QuarantineFixer) {
	a.fixer = fixer
}

// Subscribe registers a listener for account change notifications.
func (a *App) Subscribe() (<-chan string, func()) {
	return a.events.Subscribe()
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	slog.InfoContext(gCtx, "starting api server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	a.syncSchedulerState()
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		a.sched.Stop()
		return nil
	})

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// syncSchedulerState starts or stops the background scheduler to match the
// persisted settings. Called after startup, settings changes, and imports.
func (a *App) syncSchedulerState() {
	a.mu.Lock()
	enabled := a.store.Settings.BackgroundRefresh
	a.mu.Unlock()

	if enabled {
		a.sched.Start()
	} else {
		a.sched.Stop()
	}
}

func (a *App) schedulerSettings() (bool, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Settings.BackgroundRefresh, a.store.Settings.Interval()
}

// schedulerSync reconciles the current account with auth.json on the
// scheduler goroutine. Failures are logged and swallowed; the scheduler never
// stops over them.
func (a *App) schedulerSync(ctx context.Context) bool {
	a.mu.Lock()
	currentID := a.store.Current
	a.mu.Unlock()

	if currentID == "" {
		return false
	}

	changed, err := a.Sync(currentID)
	if err != nil {
		if !errors.Is(err, authfile.ErrNotLoggedIn) {
			slog.WarnContext(ctx, "background sync failed", "account_id", currentID, "error", err)
		}
		return false
	}
	return changed
}

func (a *App) notifyAccountsUpdated() {
	a.events.Publish(events.AccountsUpdated)
}

// saveLocked persists the store. Caller must hold a.mu.
func (a *App) saveLocked() error {
	if err := a.store.Save(a.backend); err != nil {
		return fmt.Errorf("failed to persist account store: %w", err)
	}
	return nil
}
