// Package engine reconciles the device document cache with the remote
// document store. Operations authored offline are stored with a pending
// marker and replayed when connectivity returns.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/docsync/internal/connectivity"
	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/metrics"
	"github.com/syntrixbase/docsync/pkg/model"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Store    LocalStore
	Tokens   TokenSource
	Remote   RemoteStore
	Network  connectivity.Observer
	Identity IdentitySource
	Listener Listener
	Logger   *slog.Logger
}

// Engine is the data facade. It is created disabled; call Enable before use.
type Engine struct {
	cfg      Config
	store    LocalStore
	tokens   TokenSource
	remote   RemoteStore
	network  connectivity.Observer
	identity IdentitySource
	logger   *slog.Logger
	now      func() time.Time

	listener atomic.Pointer[listenerBox]

	// mu gates enable, disable and sign-out, and guards the call registry.
	mu          sync.Mutex
	enabled     bool
	generation  uint64
	nextCall    uint64
	calls       map[uint64]context.CancelFunc
	unsubscribe []func()

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	drains sync.WaitGroup
}

type listenerBox struct {
	l Listener
}

var _ Service = (*Engine)(nil)

// New creates a disabled engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Tokens == nil || deps.Remote == nil || deps.Network == nil {
		return nil, errors.New("engine requires store, tokens, remote and network")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		tokens:   deps.Tokens,
		remote:   deps.Remote,
		network:  deps.Network,
		identity: deps.Identity,
		logger:   logger.With("component", "sync-engine"),
		now:      time.Now,
		calls:    make(map[uint64]context.CancelFunc),
		inflight: make(map[string]struct{}),
	}
	e.SetListener(deps.Listener)
	return e, nil
}

// SetListener replaces the replay outcome listener. Nil removes it.
func (e *Engine) SetListener(l Listener) {
	e.listener.Store(&listenerBox{l: l})
}

func (e *Engine) emit(result model.OperationResult) {
	if box := e.listener.Load(); box != nil && box.l != nil {
		box.l.OnOperationResult(result)
	}
}

// Enabled reports whether the engine accepts operations.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Enable starts accepting operations, subscribes to connectivity and
// identity changes and, when online, drains pending operations.
func (e *Engine) Enable(ctx context.Context) error {
	e.mu.Lock()
	if e.enabled {
		e.mu.Unlock()
		return nil
	}
	e.enabled = true
	e.generation++
	e.unsubscribe = append(e.unsubscribe, e.network.Subscribe(e.onNetworkChanged))
	if e.identity != nil {
		e.unsubscribe = append(e.unsubscribe, e.identity.Subscribe(e.onIdentityChanged))
	}
	e.mu.Unlock()

	if err := e.store.CreateTable(ctx, model.ReadonlyTable); err != nil {
		e.Disable()
		return fmt.Errorf("failed to prepare readonly table: %w", err)
	}
	if snap := e.snapshot(); snap.SignedIn() {
		if err := e.store.CreateTable(ctx, model.UserTableName(snap.AccountID)); err != nil {
			e.Disable()
			return fmt.Errorf("failed to prepare user table: %w", err)
		}
	}

	online := e.network.Online()
	e.logger.Info("Data service enabled", "online", online)
	if online && e.cfg.DrainOnEnable {
		e.startDrain()
	}
	return nil
}

// Disable stops accepting operations and cancels every outstanding remote
// call. Operations waiting on a canceled call return ErrDisabled and results
// of calls started before Disable are discarded.
func (e *Engine) Disable() {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return
	}
	e.enabled = false
	e.generation++
	canceled := e.cancelCallsLocked()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	e.logger.Info("Data service disabled", "canceled_calls", canceled)
}

// Shutdown disables the engine and waits for background drains to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Disable()
	done := make(chan struct{})
	go func() {
		e.drains.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// caller must hold e.mu
func (e *Engine) cancelCallsLocked() int {
	n := len(e.calls)
	for id, cancel := range e.calls {
		delete(e.calls, id)
		cancel()
	}
	return n
}

// begin registers a cancelable call. The returned done func must be called
// when the call finishes.
func (e *Engine) begin(ctx context.Context) (context.Context, uint64, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return nil, 0, nil, model.NewDataError("", model.ErrDisabled)
	}
	callCtx, cancel := context.WithCancel(ctx)
	id := e.nextCall
	e.nextCall++
	e.calls[id] = cancel
	gen := e.generation
	metrics.InflightCalls.Inc()

	done := func() {
		e.mu.Lock()
		_, tracked := e.calls[id]
		delete(e.calls, id)
		e.mu.Unlock()
		metrics.InflightCalls.Dec()
		if tracked {
			cancel()
		}
	}
	return callCtx, gen, done, nil
}

// current reports whether a call started at gen may still apply its result.
func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled && e.generation == gen
}

// callError wraps a failed call, mapping cancellation done by the engine to
// ErrDisabled or ErrCanceled.
func (e *Engine) callError(ctx context.Context, gen uint64, message string, err error) error {
	if model.IsCanceled(err) && ctx.Err() == nil {
		if !e.Enabled() {
			return model.NewDataError(message, model.ErrDisabled)
		}
		if !e.current(gen) {
			return model.NewDataError(message, model.ErrCanceled)
		}
	}
	var dataErr *model.DataError
	if errors.As(err, &dataErr) && message == "" {
		return err
	}
	return model.NewDataError(message, model.WrapError(err))
}

func (e *Engine) snapshot() identity.Snapshot {
	if e.identity == nil {
		return identity.Snapshot{}
	}
	return e.identity.Snapshot()
}

func (e *Engine) onNetworkChanged(online bool) {
	e.logger.Info("Network state changed", "online", online)
	if online {
		e.startDrain()
	}
}

func (e *Engine) onIdentityChanged(change identity.Change) {
	ctx := context.Background()
	if change.Current == "" && change.Previous != "" {
		e.mu.Lock()
		e.generation++
		canceled := e.cancelCallsLocked()
		e.mu.Unlock()

		if err := e.tokens.RemoveAll(ctx); err != nil {
			e.logger.Warn("Failed to remove cached tokens", "error", err)
		}
		if err := e.store.DropTable(ctx, model.UserTableName(change.Previous)); err != nil {
			e.logger.Warn("Failed to drop user table", "error", err)
		}
		e.logger.Info("Cleared user data after sign-out", "canceled_calls", canceled)
		return
	}
	if change.Current != "" {
		if err := e.store.CreateTable(ctx, model.UserTableName(change.Current)); err != nil {
			e.logger.Error("Failed to create user table", "error", err)
			return
		}
		if e.Enabled() && e.network.Online() {
			e.startDrain()
		}
	}
}

func (e *Engine) startDrain() {
	e.drains.Add(1)
	go func() {
		defer e.drains.Done()
		if err := e.Drain(context.Background()); err != nil && !errors.Is(err, model.ErrDisabled) && !errors.Is(err, model.ErrCanceled) {
			e.logger.Warn("Drain failed", "error", err)
		}
	}()
}

func (e *Engine) claim(key string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, busy := e.inflight[key]; busy {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.inflightMu.Lock()
	delete(e.inflight, key)
	e.inflightMu.Unlock()
}

func countOperation(operation string, online bool, err error) {
	mode := metrics.ModeOffline
	if online {
		mode = metrics.ModeOnline
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.OperationsTotal.WithLabelValues(operation, mode, result).Inc()
}
