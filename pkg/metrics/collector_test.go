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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewResourceCollector(t *testing.T) {
	ctx := context.Background()
	interval := 1 * time.Second

	collector := NewResourceCollector(ctx, interval)

	if collector == nil {
		t.Fatal("Expected collector to be created")
	}

	if collector.interval != interval {
		t.Errorf("Expected interval %v, got %v", interval, collector.interval)
	}

	if collector.started.IsZero() {
		t.Error("Expected started time to be set")
	}

	collector.Stop()
}

func TestResourceCollectorCollect(t *testing.T) {
	Enable()
	Goroutines.Set(0)
	MemoryAllocBytes.Set(0)

	collector := NewResourceCollector(context.Background(), time.Hour)
	defer collector.Stop()

	collector.collect()

	if testutil.ToFloat64(Goroutines) == 0 {
		t.Error("Expected goroutine gauge to be populated")
	}
	if testutil.ToFloat64(MemoryAllocBytes) == 0 {
		t.Error("Expected memory gauge to be populated")
	}
}

func TestResourceCollectorSources(t *testing.T) {
	Enable()
	CredentialsTotal.Set(0)
	PendingCeremonies.Set(0)

	collector := NewResourceCollector(context.Background(), time.Hour).
		WithCredentialSource(func(context.Context) (int, error) { return 7, nil }).
		WithCeremonySource(func(context.Context) (int, error) { return 2, nil })
	defer collector.Stop()

	collector.collect()

	if got := testutil.ToFloat64(CredentialsTotal); got != 7 {
		t.Errorf("Expected credentials gauge 7, got %v", got)
	}
	if got := testutil.ToFloat64(PendingCeremonies); got != 2 {
		t.Errorf("Expected pending ceremonies gauge 2, got %v", got)
	}
}

func TestResourceCollectorStopsOnCancel(t *testing.T) {
	Enable()

	ctx, cancel := context.WithCancel(context.Background())
	collector := NewResourceCollector(ctx, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		collector.Start()
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected collector to stop after context cancellation")
	}
}

func TestCollectOnce(t *testing.T) {
	Enable()
	Goroutines.Set(0)

	CollectOnce()

	if testutil.ToFloat64(Goroutines) == 0 {
		t.Error("Expected goroutine gauge to be populated")
	}
}
