// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package hub

import (
	"context"
	"sync"
	"time"

	"github.com/forkbombeu/emuhub/internal/avd"
)

// Poller runs Hub.Refresh on a repeating schedule.
//
// Scheduled cycles run one at a time, across restarts too. A manual
// Hub.Refresh may still overlap a scheduled one; each publish replaces the
// snapshot atomically, so the last cycle to finish wins.
type Poller struct {
	hub *Hub

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(h *Hub) *Poller {
	return &Poller{hub: h}
}

// Start begins polling and returns immediately. A loop already running is
// cancelled first; a cycle it has in flight still completes, and the new
// loop's first cycle waits for it, so scheduled cycles never overlap.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	prev := p.done
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.loop(loopCtx, prev, done)
}

// Stop cancels the loop. It does not wait for an in-flight cycle.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Wait blocks until the most recently started loop has exited.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	env := p.hub.env.WithContext(ctx)
	avd.LogEvent(env, "poller started")
	defer avd.LogEvent(env, "poller stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		// The cycle itself is never interrupted by cancellation.
		_, _ = p.hub.Refresh(context.WithoutCancel(ctx))

		interval := p.hub.Settings().RefreshInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Interval reports the delay the loop will use before its next cycle.
func (p *Poller) Interval() time.Duration {
	return p.hub.Settings().RefreshInterval()
}
