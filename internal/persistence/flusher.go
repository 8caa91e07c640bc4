package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrFlusherStarted is returned by Start on a running flusher.
var ErrFlusherStarted = errors.New("flusher already started")

// FlushFunc saves state.
type FlushFunc func(ctx context.Context) error

// Flusher calls a FlushFunc periodically and once more on Stop.
type Flusher struct {
	interval time.Duration
	flush    FlushFunc
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewFlusher creates a stopped flusher. A non-positive interval disables
// the periodic flush; Stop still flushes.
func NewFlusher(interval time.Duration, flush FlushFunc, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{interval: interval, flush: flush, logger: logger}
}

// Start launches the periodic loop.
func (f *Flusher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return ErrFlusherStarted
	}
	f.started = true
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.run(ctx)
	return nil
}

func (f *Flusher) run(ctx context.Context) {
	defer close(f.done)
	if f.interval <= 0 {
		select {
		case <-f.stop:
		case <-ctx.Done():
		}
		return
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.flush(ctx); err != nil {
				f.logger.Error("periodic state flush failed", zap.Error(err))
			} else {
				f.logger.Debug("state flushed")
			}
		}
	}
}

// Stop ends the loop and performs a final flush bounded by ctx.
func (f *Flusher) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		close(f.stop)
		<-f.done
		f.started = false
	}
	f.mu.Unlock()

	if err := f.flush(ctx); err != nil {
		f.logger.Error("final state flush failed", zap.Error(err))
		return err
	}
	f.logger.Info("state flushed on shutdown")
	return nil
}
