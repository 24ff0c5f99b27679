// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package device

import (
	"context"
	"sync"
	"time"

	"github.com/pivgate/pivgate/internal/model"
)

// Watcher periodically re-enumerates attached tokens and keeps the latest
// snapshot for UI refresh purposes. It never feeds gating decisions: the
// gatekeeper re-reads device presence itself on every connect.
type Watcher struct {
	reg      *Registry
	interval time.Duration

	mu       sync.RWMutex
	snapshot []model.Device

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher polling on the given interval.
func NewWatcher(reg *Registry, interval time.Duration) *Watcher {
	return &Watcher{
		reg:      reg,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling in a background goroutine until Stop is called or the
// context is cancelled. The first snapshot is taken immediately.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		w.refresh(ctx)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.refresh(ctx)
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the polling goroutine and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Snapshot returns the most recently observed device list.
func (w *Watcher) Snapshot() []model.Device {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.Device, len(w.snapshot))
	copy(out, w.snapshot)
	return out
}

func (w *Watcher) refresh(ctx context.Context) {
	devices := w.reg.List(ctx)
	w.mu.Lock()
	w.snapshot = devices
	w.mu.Unlock()
}
