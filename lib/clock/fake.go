// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock standing at initial. Time moves only when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock. It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	changed *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time

	// interval is non-zero for tickers, which are rescheduled after
	// each tick.
	interval time.Duration
	done     bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.add(&fakeWaiter{deadline: c.current.Add(d), channel: channel})
	return channel
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{deadline: c.current.Add(d), channel: make(chan time.Time, 1), interval: d}
	c.add(waiter)
	return &Ticker{
		C: waiter.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.done = true
			c.prune()
		},
	}
}

// Advance moves the clock forward by d, firing every timer and ticker
// whose deadline is reached. A ticker spanning several intervals fires
// once per interval; ticks beyond the channel buffer are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	for _, waiter := range c.waiters {
		for !waiter.done && !waiter.deadline.After(c.current) {
			select {
			case waiter.channel <- waiter.deadline:
			default:
			}
			if waiter.interval == 0 {
				waiter.done = true
				break
			}
			waiter.deadline = waiter.deadline.Add(waiter.interval)
		}
	}
	c.prune()
}

// WaitForWaiters blocks until at least count timers or tickers are
// pending.
func (c *FakeClock) WaitForWaiters(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < count {
		c.changed.Wait()
	}
}

func (c *FakeClock) add(waiter *fakeWaiter) {
	c.waiters = append(c.waiters, waiter)
	c.changed.Broadcast()
}

func (c *FakeClock) prune() {
	live := c.waiters[:0]
	for _, waiter := range c.waiters {
		if !waiter.done {
			live = append(live, waiter)
		}
	}
	clear(c.waiters[len(live):])
	c.waiters = live
}
