// Package lifecycle runs the long-lived jobs of the serve command and tears
// them down in reverse registration order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"timeline/core/internal/logging"
)

const defaultShutdownTimeout = 5 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

type Manager struct {
	mu              sync.Mutex
	log             *slog.Logger
	shutdownTimeout time.Duration
	runJobs         []job
	shutdownJobs    []job
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{log: log, shutdownTimeout: defaultShutdownTimeout}
}

// SetShutdownTimeout bounds each shutdown job. Zero or less keeps the default.
func (m *Manager) SetShutdownTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.shutdownTimeout = d
	m.mu.Unlock()
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers a teardown step. Steps run last-registered first.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs, shutdownJobs, timeout := m.snapshot()

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.log.Debug("job started", "job", j.name)
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error("job failed", "job", j.name, logging.Err(err))
				errCh <- fmt.Errorf("%s: %w", j.name, err)
				cancelRuns()
				return
			}
			m.log.Debug("job stopped", "job", j.name)
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
	}

	<-doneCh
	close(errCh)
	for err := range errCh {
		if runErr == nil {
			runErr = err
		}
	}

	var shutdownErr error
	for i := len(shutdownJobs) - 1; i >= 0; i-- {
		j := shutdownJobs[i]
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := j.run(sctx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("shutdown step failed", "job", j.name, logging.Err(err))
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot() ([]job, []job, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]job(nil), m.runJobs...), append([]job(nil), m.shutdownJobs...), m.shutdownTimeout
}
