// Package replay rejects signed requests whose timestamp is stale or has
// already been consumed for the issuing identity.
package replay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lighthouse-p2p/lighthouse/pkg/types"
)

var ErrStaleTimestamp = errors.New("stale or reused timestamp")

// Guard tracks, per identity, the highest timestamp committed so far.
// Monotonicity is per identity so one identity's flood cannot lock out
// others. A zero window disables the wall-clock freshness check, which is
// what the smoke-test deployments use.
type Guard struct {
	mu        sync.RWMutex
	watermark map[types.NodeID]int64
	window    time.Duration
	now       func() time.Time
}

func NewGuard(window time.Duration) *Guard {
	return &Guard{
		watermark: make(map[types.NodeID]int64),
		window:    window,
		now:       time.Now,
	}
}

// Check reports whether ts is acceptable for id: strictly greater than the
// last committed timestamp, and within the freshness window when one is
// configured. Guard state is unchanged.
func (g *Guard) Check(id types.NodeID, ts int64) error {
	if g.window > 0 {
		now := g.now().Unix()
		limit := int64(g.window / time.Second)
		if ts < now-limit || ts > now+limit {
			return fmt.Errorf("%w: outside freshness window", ErrStaleTimestamp)
		}
	}

	g.mu.RLock()
	last, ok := g.watermark[id]
	g.mu.RUnlock()

	if ok && ts <= last {
		return ErrStaleTimestamp
	}

	return nil
}

// Commit marks ts consumed for id. The watermark never moves backwards.
func (g *Guard) Commit(id types.NodeID, ts int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.watermark[id]; !ok || ts > last {
		g.watermark[id] = ts
	}
}

// Reset clears all watermarks. Called on wipe.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.watermark = make(map[types.NodeID]int64)
}
