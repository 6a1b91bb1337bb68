package entitysync

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so ticking logic is deterministic under
// test. Injected everywhere nowMs is needed: history recording, transport
// ready-time gating, and the client's render-timestamp computation.
type Clock interface {
	NowMs() int64
}

// SystemClock implements Clock using the real wall clock.
type SystemClock struct{}

// NowMs returns the current Unix time in milliseconds.
func (SystemClock) NowMs() int64 { return time.Now().UnixMilli() }

// VirtualClock is a manually-advanced Clock for deterministic tests. Share a
// single VirtualClock between a transport and the endpoints that use it, the
// way the design notes recommend, so lag and tick timing line up exactly
// with the scenario being tested.
type VirtualClock struct {
	mu    sync.Mutex
	nowMs int64
}

// NewVirtualClock creates a VirtualClock starting at the given time.
func NewVirtualClock(startMs int64) *VirtualClock {
	return &VirtualClock{nowMs: startMs}
}

// NowMs returns the current virtual time.
func (c *VirtualClock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowMs
}

// Advance moves the virtual clock forward by deltaMs and returns the new time.
func (c *VirtualClock) Advance(deltaMs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowMs += deltaMs
	return c.nowMs
}

// Set pins the virtual clock to an absolute time.
func (c *VirtualClock) Set(nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowMs = nowMs
}
