// Package monitor runs fixed-interval background polling of an escrow
// record's status. One goroutine serves one Handle; polls never overlap and
// callbacks for one handle are strictly sequential. A failed poll is logged
// and followed by the normal sleep, so transient service trouble never kills
// the loop. The interval stays fixed on repeated errors; a client polling
// loop has no need for backoff growth.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentpay-network/agentpay-go/client"
	"github.com/agentpay-network/agentpay-go/pkg/logger"
)

// DefaultInterval is used when Start is given a non-positive interval.
const DefaultInterval = 60 * time.Second

// Source produces one status snapshot per poll.
type Source interface {
	Poll(ctx context.Context) (*client.StatusSnapshot, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context) (*client.StatusSnapshot, error)

// Poll implements Source.
func (f SourceFunc) Poll(ctx context.Context) (*client.StatusSnapshot, error) {
	return f(ctx)
}

// Callback receives each observed snapshot. It runs on the monitor goroutine;
// a slow callback throttles polling rather than letting polls pile up.
type Callback func(snapshot *client.StatusSnapshot)

// PollObserver counts poll outcomes. Implemented by the metrics package.
type PollObserver interface {
	ObservePoll(result string)
	MonitorStarted()
	MonitorStopped()
}

// Handle owns one running polling loop. Stop is idempotent and safe to call
// from any goroutine.
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a monitor loop.
type Option func(*settings)

type settings struct {
	log      *slog.Logger
	observer PollObserver
}

// WithLogger replaces the default component logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithObserver attaches a poll observer.
func WithObserver(observer PollObserver) Option {
	return func(s *settings) {
		s.observer = observer
	}
}

// Start launches a polling loop against src and returns its Handle. The loop
// runs until the handle is stopped or ctx is cancelled. Cancellation is
// cooperative: it is observed at the network wait and at the inter-poll
// sleep, and an in-flight poll is allowed to finish.
func Start(ctx context.Context, src Source, interval time.Duration, cb Callback, opts ...Option) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	cfg := settings{log: logger.Named("monitor")}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go run(loopCtx, src, interval, cb, cfg, h.done)
	return h
}

// Stop cancels the loop at its next suspension point. Calling it again, or
// on an already-finished handle, is a no-op.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(h.cancel)
}

// Done is closed once the loop has fully exited; after that no further
// callback invocations can occur.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the loop has exited.
func (h *Handle) Wait() {
	<-h.done
}

func run(ctx context.Context, src Source, interval time.Duration, cb Callback, cfg settings, done chan struct{}) {
	defer close(done)
	if cfg.observer != nil {
		cfg.observer.MonitorStarted()
		defer cfg.observer.MonitorStopped()
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		snapshot, err := src.Poll(ctx)

		// A stop racing the poll must win: no callback may fire once
		// cancellation has been observed.
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil:
			if cfg.observer != nil {
				cfg.observer.ObservePoll("error")
			}
			cfg.log.Warn("status poll failed", slog.Any("error", err))
		default:
			if cfg.observer != nil {
				cfg.observer.ObservePoll("ok")
			}
			if cb != nil {
				cb(snapshot)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		timer.Reset(interval)
	}
}
