// Package syncengine is the client half of the playback protocol: clock
// offset estimation against the server and the reconciliation loop that
// turns anchor broadcasts into seek/play/pause actions on an audio player.
package syncengine

import (
	"sync"
	"time"
)

// Clock estimates the offset between the local clock and the server's.
// One exchange at connect time is enough; the offset is re-estimated on
// every reconnect since it drifts with clock skew and network path changes.
type Clock struct {
	mu     sync.Mutex
	offset time.Duration
	synced bool
	now    func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Observe folds one request/response exchange into the offset estimate:
// t0 is the local send time, serverTime the server's reply, t1 the local
// receive time. Assuming symmetric latency, the server clock read maps to
// the local instant t1 - latency, so offset = serverTime + latency - t1.
func (c *Clock) Observe(t0 time.Time, serverTime time.Time, t1 time.Time) {
	latency := t1.Sub(t0) / 2

	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = serverTime.Add(latency).Sub(t1)
	c.synced = true
}

func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Clock) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// ServerNow is the best estimate of the server's current wall clock.
func (c *Clock) ServerNow() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.offset)
}

// ToServer converts a local timestamp to estimated server time.
func (c *Clock) ToServer(local time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return local.Add(c.offset)
}
