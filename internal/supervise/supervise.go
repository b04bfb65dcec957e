// Package supervise implements the Signal & Supervision Shell (spec §4.I):
// SIGINT/SIGTERM trigger a graceful drain of in-flight work within a
// deadline, and panics inside supervised goroutines are recovered and
// logged rather than crashing the process. Grounded on the teacher's
// graceful-lifecycle and panic-recovery idioms from
// internal/agent/executor.go (metrics.TotalPanics) and the file-lock
// exclusivity pattern in internal/gateway/singleton_lock.go.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"
)

// DefaultDrainDeadline bounds how long Run waits for in-flight work to
// finish after a shutdown signal before forcing exit (spec §4.I default: 30s).
const DefaultDrainDeadline = 30 * time.Second

// Shell supervises one process's lifecycle: it owns the root context,
// tracks in-flight work via a WaitGroup, and converts SIGINT/SIGTERM into
// a graceful drain.
type Shell struct {
	drainDeadline time.Duration
	logger        *slog.Logger

	wg       sync.WaitGroup
	draining chan struct{}
	once     sync.Once
}

// New builds a Shell with the given drain deadline (0 uses the default).
func New(drainDeadline time.Duration, logger *slog.Logger) *Shell {
	if drainDeadline <= 0 {
		drainDeadline = DefaultDrainDeadline
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{
		drainDeadline: drainDeadline,
		logger:        logger.With("component", "supervise"),
		draining:      make(chan struct{}),
	}
}

// Draining returns a channel closed once a shutdown signal has been
// received, so long-lived loops can stop accepting new work.
func (s *Shell) Draining() <-chan struct{} {
	return s.draining
}

// Track registers one unit of in-flight work; call done() when it
// completes so Run's drain wait can observe quiescence.
func (s *Shell) Track() (done func()) {
	s.wg.Add(1)
	return s.wg.Done
}

// Go runs fn in a new tracked goroutine with panic isolation: a panic is
// logged and does not propagate, matching the Dispatcher's
// continue-after-panic contract (spec §4.I).
func (s *Shell) Go(fn func()) {
	done := s.Track()
	go func() {
		defer done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("recovered panic in supervised goroutine", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// Run blocks until SIGINT or SIGTERM arrives or ctx is done, then closes
// Draining, calls cancel, and waits up to the drain
// deadline for tracked work to finish. It returns an error only if the
// drain deadline was exceeded before all tracked work finished.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	s.once.Do(func() { close(s.draining) })
	cancel()

	return s.waitForDrain()
}

func (s *Shell) waitForDrain() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("graceful drain completed")
		return nil
	case <-time.After(s.drainDeadline):
		s.logger.Warn("drain deadline exceeded, forcing shutdown", "deadline", s.drainDeadline)
		return fmt.Errorf("supervise: drain deadline of %s exceeded", s.drainDeadline)
	}
}

// ErrAlreadyLocked is returned by AcquireLock when another instance holds
// the singleton lock.
var ErrAlreadyLocked = errors.New("supervise: another instance holds the singleton lock")

// Lock is a held file-based singleton lock; Release must be called on exit.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock creates an exclusive lock file at path, failing with
// ErrAlreadyLocked if one instance already holds it. This keeps two
// dispatcher processes from racing over the same SSE connection/consumer
// set (spec §4.I), grounded on the teacher's gateway singleton lock.
func AcquireLock(path string) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("supervise: acquire lock: %w", err)
	}
	fmt.Fprintf(file, "%d\n", os.Getpid())
	return &Lock{path: path, file: file}, nil
}

// Release removes the lock file. Safe to call once; a second call is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.file.Close()
	err := os.Remove(l.path)
	l.file = nil
	return err
}
