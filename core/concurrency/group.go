package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adalundhe/scopechain/core/scope"
)

var ErrGroupShutdown = errors.New("group is shutting down")

const defaultMaxLifetime = 5 * time.Minute

type WorkFunc func(ctx context.Context) error

// Group runs units of work as goroutines. A unit started with Go continues in
// the frame ambient in the context it was started with; GoScoped declares a
// child frame for it first. Either way the unit holds its frame until it
// returns, so frame lifetime covers spawned work.
type Group struct {
	name   string
	env    *scope.Environment
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	workers map[uint64]*worker
	nextID  uint64

	wg       sync.WaitGroup
	errMu    sync.Mutex
	firstErr error

	maxLifetime time.Duration

	shutdownMu       sync.Mutex
	shutdownStarted  bool
	shutdownComplete chan struct{}
}

type worker struct {
	id          uint64
	ctx         context.Context
	cancel      context.CancelFunc
	stop        func() bool
	release     func()
	startedAt   time.Time
	deadline    time.Time
	description string
	frameID     string
	done        chan struct{}
	err         atomic.Pointer[error]
}

type LeakError struct {
	Group       string
	LeakedCount int
	Workers     []string
	StackDump   string
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("CRITICAL: %d goroutines leaked in group %s: %v",
		e.LeakedCount, e.Group, e.Workers)
}

type GroupOption func(*Group)

func WithMaxLifetime(d time.Duration) GroupOption {
	return func(g *Group) {
		if d > 0 {
			g.maxLifetime = d
		}
	}
}

func WithLogger(logger *slog.Logger) GroupOption {
	return func(g *Group) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGroup creates a group whose workers are cancelled when parentCtx is, or
// on Shutdown. A nil env means scope.Default().
func NewGroup(parentCtx context.Context, name string, env *scope.Environment, opts ...GroupOption) *Group {
	if env == nil {
		env = scope.Default()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	g := &Group{
		name:             name,
		env:              env,
		ctx:              ctx,
		cancel:           cancel,
		logger:           slog.Default(),
		workers:          make(map[uint64]*worker),
		maxLifetime:      defaultMaxLifetime,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Go starts fn as a continuation of the unit of work owning ctx: it sees the
// same ambient frame. A zero timeout means the group's maximum lifetime.
func (g *Group) Go(ctx context.Context, description string, timeout time.Duration, fn WorkFunc) error {
	g.shutdownMu.Lock()
	defer g.shutdownMu.Unlock()
	if g.shutdownStarted {
		return ErrGroupShutdown
	}
	release := g.env.Hold(ctx)
	return g.start(ctx, g.env.Ambient(ctx), release, description, timeout, fn)
}

// GoScoped starts fn in a scope declared now, as a child of the frame ambient
// in ctx at the time of the call.
func (g *Group) GoScoped(ctx context.Context, description string, timeout time.Duration, fn WorkFunc) error {
	g.shutdownMu.Lock()
	defer g.shutdownMu.Unlock()
	if g.shutdownStarted {
		return ErrGroupShutdown
	}
	scoped, frame, release := g.env.Fork(ctx)
	return g.start(scoped, frame, release, description, timeout, fn)
}

// start registers and launches a worker. Callers hold shutdownMu, so no
// worker is added to the wait group once Shutdown has begun waiting.
func (g *Group) start(ctx context.Context, frame *scope.Frame, release func(), description string, timeout time.Duration, fn WorkFunc) error {
	w := g.createWorker(ctx, description, g.normalizeTimeout(timeout))
	w.release = release
	w.frameID = frame.ID()
	g.registerWorker(w)

	g.logger.Debug("worker started", "group", g.name, "worker", description, "frame", w.frameID)
	go g.runWorker(w, fn)
	return nil
}

func (g *Group) normalizeTimeout(timeout time.Duration) time.Duration {
	if timeout > g.maxLifetime || timeout == 0 {
		return g.maxLifetime
	}
	return timeout
}

func (g *Group) createWorker(ctx context.Context, description string, timeout time.Duration) *worker {
	workerCtx, workerCancel := context.WithTimeout(ctx, timeout)
	return &worker{
		ctx:         workerCtx,
		cancel:      workerCancel,
		stop:        context.AfterFunc(g.ctx, workerCancel),
		startedAt:   time.Now(),
		deadline:    time.Now().Add(timeout),
		description: description,
		done:        make(chan struct{}),
	}
}

func (g *Group) registerWorker(w *worker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w.id = g.nextID
	g.nextID++
	g.workers[w.id] = w
	g.wg.Add(1)
}

func (g *Group) runWorker(w *worker, fn WorkFunc) {
	defer g.cleanupWorker(w)
	g.executeWork(w, fn)
}

func (g *Group) executeWork(w *worker, fn WorkFunc) {
	defer g.recoverPanic(w)
	if err := fn(w.ctx); err != nil {
		w.err.Store(&err)
	}
}

func (g *Group) recoverPanic(w *worker) {
	if r := recover(); r != nil {
		err := fmt.Errorf("panic in worker %q: %v\n%s", w.description, r, captureStack())
		w.err.Store(&err)
	}
}

func (g *Group) cleanupWorker(w *worker) {
	w.stop()
	w.cancel()
	w.release()
	close(w.done)

	if errp := w.err.Load(); errp != nil {
		g.logger.Warn("worker failed", "group", g.name, "worker", w.description, "error", *errp)
		g.recordError(*errp)
	} else {
		g.logger.Debug("worker finished", "group", g.name, "worker", w.description)
	}

	g.mu.Lock()
	delete(g.workers, w.id)
	g.mu.Unlock()

	g.wg.Done()
}

func (g *Group) recordError(err error) {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	if g.firstErr == nil {
		g.firstErr = err
	}
}

// Wait blocks until every started worker has returned and reports the first
// worker error.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.firstErr
}

func (g *Group) Shutdown(gracePeriod, hardDeadline time.Duration) error {
	if !g.beginShutdown() {
		<-g.shutdownComplete
		return nil
	}
	defer close(g.shutdownComplete)

	g.cancel()
	return g.waitForShutdown(gracePeriod, hardDeadline)
}

func (g *Group) beginShutdown() bool {
	g.shutdownMu.Lock()
	defer g.shutdownMu.Unlock()
	if g.shutdownStarted {
		return false
	}
	g.shutdownStarted = true
	return true
}

func (g *Group) waitForShutdown(gracePeriod, hardDeadline time.Duration) error {
	graceDone := g.startWaitGroup()

	select {
	case <-graceDone:
		return nil
	case <-time.After(gracePeriod):
		return g.forceShutdown(graceDone, hardDeadline-gracePeriod)
	}
}

func (g *Group) startWaitGroup() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	return done
}

func (g *Group) forceShutdown(graceDone <-chan struct{}, remaining time.Duration) error {
	g.cancelAllWorkers()

	if g.WorkerCount() == 0 {
		return nil
	}

	select {
	case <-graceDone:
		return nil
	case <-time.After(remaining):
		leak := g.buildLeakError()
		g.logger.Error("workers outlived shutdown", "group", g.name, "leaked", leak.LeakedCount)
		return leak
	}
}

func (g *Group) cancelAllWorkers() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range g.workers {
		w.cancel()
	}
}

func (g *Group) buildLeakError() *LeakError {
	g.mu.Lock()
	leaked := make([]string, 0, len(g.workers))
	for _, w := range g.workers {
		leaked = append(leaked, fmt.Sprintf(
			"worker[%d] desc=%q frame=%s started=%v deadline=%v",
			w.id, w.description, w.frameID, w.startedAt, w.deadline,
		))
	}
	g.mu.Unlock()

	return &LeakError{
		Group:       g.name,
		LeakedCount: len(leaked),
		Workers:     leaked,
		StackDump:   captureAllStacks(),
	}
}

func (g *Group) WorkerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.workers)
}

func (g *Group) Name() string {
	return g.name
}

func (g *Group) Environment() *scope.Environment {
	return g.env
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func captureAllStacks() string {
	buf := make([]byte, 65536)
	n := runtime.Stack(buf, true)
	return string(buf[:n])
}
