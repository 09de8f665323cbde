package testutil

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"drivemirror/internal/mirror"
)

// Epoch is the time every FixedClock starts at.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// ManualClock only moves when Advance is called, so readiness timestamps
// and journal durations come out exact.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ mirror.Clock = (*ManualClock)(nil)

// FixedClock returns a ManualClock standing at Epoch.
func FixedClock() *ManualClock {
	return &ManualClock{now: Epoch}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// PermissionIDs hands out "perm-1", "perm-2", ... the way the remote service
// hands out permission ids.
type PermissionIDs struct {
	n atomic.Int64
}

var _ mirror.IDGenerator = (*PermissionIDs)(nil)

func (g *PermissionIDs) New() string {
	return "perm-" + strconv.FormatInt(g.n.Add(1), 10)
}
