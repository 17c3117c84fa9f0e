// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"runtime"
	"time"
)

// ResourceCollector periodically samples runtime statistics and the storage
// gauges (stored credentials, pending ceremonies). The count sources are
// injected so the collector works with any storage backend.
type ResourceCollector struct {
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	started     time.Time
	credentials func(context.Context) (int, error)
	ceremonies  func(context.Context) (int, error)
}

// NewResourceCollector creates a collector that samples at the given
// interval. Run Start in a goroutine; Stop or cancelling ctx ends it.
func NewResourceCollector(ctx context.Context, interval time.Duration) *ResourceCollector {
	collectorCtx, cancel := context.WithCancel(ctx)
	return &ResourceCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		interval: interval,
		started:  time.Now(),
	}
}

// WithCredentialSource registers a function that reports the number of stored
// credentials. The collector calls it each cycle to feed CredentialsTotal.
func (rc *ResourceCollector) WithCredentialSource(source func(context.Context) (int, error)) *ResourceCollector {
	rc.credentials = source
	return rc
}

// WithCeremonySource registers a function that reports the number of pending
// ceremony states. The collector calls it each cycle to feed
// PendingCeremonies.
func (rc *ResourceCollector) WithCeremonySource(source func(context.Context) (int, error)) *ResourceCollector {
	rc.ceremonies = source
	return rc
}

// Start samples immediately and then on every tick until the collector is
// stopped. It blocks, so callers normally run it in a goroutine.
func (rc *ResourceCollector) Start() {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.collect()

	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
			rc.collect()
		}
	}
}

// Stop halts the collector.
func (rc *ResourceCollector) Stop() {
	rc.cancel()
}

func (rc *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}

	sampleRuntime()
	ServerUptime.Set(time.Since(rc.started).Seconds())

	// A failing source leaves the gauge at its last good value rather than
	// zeroing it out.
	if rc.credentials != nil {
		if count, err := rc.credentials(rc.ctx); err == nil {
			SetCredentialsTotal(float64(count))
		}
	}
	if rc.ceremonies != nil {
		if count, err := rc.ceremonies(rc.ctx); err == nil {
			SetPendingCeremonies(float64(count))
		}
	}
}

// sampleRuntime updates the goroutine and memory gauges.
func sampleRuntime() {
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	MemoryAllocBytes.Set(float64(memStats.Alloc))
	MemorySysBytes.Set(float64(memStats.Sys))
}

// CollectOnce samples the runtime gauges a single time, outside any
// collector's schedule.
func CollectOnce() {
	if !IsEnabled() {
		return
	}
	sampleRuntime()
}
