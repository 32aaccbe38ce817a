package app

import (
	"context"
	"log"
	"time"

	"github.com/jaakkos/deaddrop/internal/policy"
	"github.com/jaakkos/deaddrop/internal/store"
)

const (
	defaultWatchdogInterval = time.Minute
	defaultPruneInterval    = time.Hour
)

// Watchdog periodically evicts sessions with no tool activity and, when
// retention is configured, prunes old read messages.
type Watchdog struct {
	store    *store.Store
	registry *SessionRegistry
	evict    func(sessionID string)
	cfg      *policy.Config
	logger   *log.Logger
	interval time.Duration

	lastPrune time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewWatchdog builds a watchdog. evict must drop the session from both the
// registry and the session store.
func NewWatchdog(st *store.Store, registry *SessionRegistry, evict func(string),
	cfg *policy.Config, logger *log.Logger) *Watchdog {
	return &Watchdog{
		store:    st,
		registry: registry,
		evict:    evict,
		cfg:      cfg,
		logger:   logger,
		interval: defaultWatchdogInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the watchdog loop until ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// Stop signals the watchdog to stop. Call after cancelling Start's context.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// RunOnce performs one maintenance pass.
func (w *Watchdog) RunOnce() {
	if w.cfg.WatchdogIdleSeconds > 0 {
		cutoff := time.Now().Add(-time.Duration(w.cfg.WatchdogIdleSeconds) * time.Second)
		for _, sid := range w.registry.IdleSessions(cutoff) {
			agent := w.registry.AgentFor(sid)
			w.logger.Printf("Watchdog: evicting idle session %s (agent=%s)", sid, agent)
			w.evict(sid)
		}
	}

	if w.cfg.MessageRetentionMax > 0 || w.cfg.MessageRetentionDays > 0 {
		if time.Since(w.lastPrune) >= defaultPruneInterval {
			w.lastPrune = time.Now()
			n, err := w.store.PruneMessages(w.cfg.MessageRetentionMax, w.cfg.MessageRetentionDays)
			if err != nil {
				w.logger.Printf("Watchdog: prune: %v", err)
			} else if n > 0 {
				w.logger.Printf("Watchdog: pruned %d read message(s)", n)
			}
		}
	}
}
