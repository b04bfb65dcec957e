package supervise

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunDrainsBeforeReturning(t *testing.T) {
	shell := New(200*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var completed atomic.Bool
	done := shell.Track()
	go func() {
		time.Sleep(20 * time.Millisecond)
		completed.Store(true)
		done()
	}()

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	err := shell.Run(ctx, cancel)
	require.NoError(t, err)
	require.True(t, completed.Load())
}

func TestRunReturnsErrorWhenDrainDeadlineExceeded(t *testing.T) {
	shell := New(20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shell.Track() // never completes

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	err := shell.Run(ctx, cancel)
	require.Error(t, err)
}

func TestGoRecoversPanicWithoutCrashingProcess(t *testing.T) {
	shell := New(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran atomic.Bool
	shell.Go(func() {
		ran.Store(true)
		panic("boom")
	})

	require.Eventually(t, func() bool { return ran.Load() }, time.Second, 5*time.Millisecond)

	go func() {
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()
	require.NoError(t, shell.Run(ctx, cancel))
}

func TestDrainingChannelClosesOnSignal(t *testing.T) {
	shell := New(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	go func() { _ = shell.Run(ctx, cancel) }()

	select {
	case <-shell.Draining():
	case <-time.After(time.Second):
		t.Fatal("draining channel never closed")
	}
}

func TestAcquireLockPreventsSecondInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breadcrumbd.lock")

	lock1, err := AcquireLock(path)
	require.NoError(t, err)
	require.NotNil(t, lock1)

	_, err = AcquireLock(path)
	require.ErrorIs(t, err, ErrAlreadyLocked)

	require.NoError(t, lock1.Release())

	lock2, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}
