// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package state holds the last published refresh result and fans changes out
// to subscribers.
package state

import (
	"sync"
	"time"

	"github.com/forkbombeu/emuhub/internal/avd"
)

// Snapshot is what the front end renders: the device and AVD lists from the
// last successful cycle plus the outcome of the most recent one.
type Snapshot struct {
	Devices             []avd.Device `json:"devices"`
	AVDs                []avd.AVD    `json:"avds"`
	LastError           string       `json:"last_error,omitempty"`
	LastRefresh         time.Time    `json:"last_refresh"`
	LastSuccess         time.Time    `json:"last_success"`
	Refreshing          bool         `json:"refreshing"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Generation          uint64       `json:"generation"`
}

// RunningEmulators returns the devices whose serial marks them as emulators.
func (s Snapshot) RunningEmulators() []avd.Device {
	var out []avd.Device
	for _, d := range s.Devices {
		if d.IsEmulator() {
			out = append(out, d)
		}
	}
	return out
}

// Store is safe for concurrent use. The zero value is ready.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	subs     map[int]chan Snapshot
	nextSub  int
}

// Publish records the outcome of one refresh cycle. On error the previous
// lists are kept and only the error description is replaced.
func (s *Store) Publish(devices []avd.Device, avds []avd.AVD, err error) {
	errText := avd.Describe(err)
	s.mu.Lock()
	now := time.Now()
	s.snapshot.LastRefresh = now
	s.snapshot.Refreshing = false
	if errText != "" {
		s.snapshot.LastError = errText
		s.snapshot.ConsecutiveFailures++
	} else {
		s.snapshot.Devices = cloneDevices(devices)
		s.snapshot.AVDs = cloneAVDs(avds)
		s.snapshot.LastError = ""
		s.snapshot.LastSuccess = now
		s.snapshot.ConsecutiveFailures = 0
	}
	s.snapshot.Generation++
	s.notifyLocked()
	s.mu.Unlock()
}

// RecordError publishes a failure that did not come from a refresh cycle,
// such as a rejected start or stop.
func (s *Store) RecordError(err error) {
	if err == nil {
		return
	}
	errText := avd.Describe(err)
	s.mu.Lock()
	s.snapshot.LastError = errText
	s.snapshot.Generation++
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Store) SetRefreshing(refreshing bool) {
	s.mu.Lock()
	if s.snapshot.Refreshing == refreshing {
		s.mu.Unlock()
		return
	}
	s.snapshot.Refreshing = refreshing
	s.snapshot.Generation++
	s.notifyLocked()
	s.mu.Unlock()
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. A slow reader only misses intermediate snapshots, never the newest,
// and never blocks the publisher. Call the returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]chan Snapshot)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notifyLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.copyLocked()
	for _, ch := range s.subs {
		// Drop the stale pending value so the newest one always fits.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) copyLocked() Snapshot {
	snap := s.snapshot
	snap.Devices = cloneDevices(s.snapshot.Devices)
	snap.AVDs = cloneAVDs(s.snapshot.AVDs)
	return snap
}

func cloneDevices(items []avd.Device) []avd.Device {
	if len(items) == 0 {
		return []avd.Device{}
	}
	dup := make([]avd.Device, len(items))
	copy(dup, items)
	return dup
}

func cloneAVDs(items []avd.AVD) []avd.AVD {
	if len(items) == 0 {
		return []avd.AVD{}
	}
	dup := make([]avd.AVD, len(items))
	copy(dup, items)
	return dup
}
