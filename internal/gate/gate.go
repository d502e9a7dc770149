// Package gate admits or rejects extraction attempts per client using a
// fixed-window counter.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewgrab/reviewgrab/internal/metrics"
)

// Config holds admission gate configuration.
type Config struct {
	// Window is the fixed window length.
	Window time.Duration
	// Capacity is the maximum number of admitted requests per window.
	Capacity int
	// SweepInterval controls how often expired entries are deleted.
	// Defaults to the window length.
	SweepInterval time.Duration
}

type entry struct {
	count   int
	resetAt time.Time
}

// Gate tracks per-client request counts within fixed windows. All counter
// mutation happens under one mutex so that concurrent checks for the same
// client can never both be admitted past capacity.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a Gate. Window and Capacity must be positive.
func New(cfg Config, logger *zap.Logger) (*Gate, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("gate window must be > 0")
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("gate capacity must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Window
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		entries: make(map[string]*entry),
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// IsLimited performs one admission check for clientID and reports whether
// the request must be rejected. The call that opens a window always counts
// as that window's first request; a rejected call does not increment.
func (g *Gate) IsLimited(clientID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	e, ok := g.entries[clientID]
	if !ok || !now.Before(e.resetAt) {
		g.entries[clientID] = &entry{count: 1, resetAt: now.Add(g.cfg.Window)}
		return false
	}
	if e.count >= g.cfg.Capacity {
		metrics.ObserveAdmissionRejected()
		return true
	}
	e.count++
	return false
}

// Remaining returns how many admissions clientID has left in its live
// window, or the full capacity when no live window exists.
func (g *Gate) Remaining(clientID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[clientID]
	if !ok || !g.now().Before(e.resetAt) {
		return g.cfg.Capacity
	}
	if e.count >= g.cfg.Capacity {
		return 0
	}
	return g.cfg.Capacity - e.count
}

// TimeRemaining returns the time until clientID's window resets, or zero
// when no live window exists.
func (g *Gate) TimeRemaining(clientID string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[clientID]
	if !ok {
		return 0
	}
	rem := e.resetAt.Sub(g.now())
	if rem < 0 {
		return 0
	}
	return rem
}

// Reset deletes clientID's window entry.
func (g *Gate) Reset(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, clientID)
}

// Run sweeps expired entries on a fixed interval until ctx is canceled.
// The sweep is independent of request traffic so idle clients cannot pin
// memory.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := g.sweep(); removed > 0 {
				g.logger.Debug("swept expired windows", zap.Int("removed", removed))
			}
		}
	}
}

func (g *Gate) sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for id, e := range g.entries {
		if !now.Before(e.resetAt) {
			delete(g.entries, id)
			removed++
		}
	}
	return removed
}
