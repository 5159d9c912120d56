// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	want := epoch.Add(5 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAdvanceAccumulates(t *testing.T) {
	clock := Fake(epoch)
	clock.Advance(1 * time.Second)
	clock.Advance(2 * time.Second)
	want := epoch.Add(3 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeClockImplementsClock(t *testing.T) {
	// Compile-time check that *FakeClock satisfies Clock.
	var _ Clock = (*FakeClock)(nil)
}

func TestRealClockImplementsClock(t *testing.T) {
	// Compile-time check that realClock satisfies Clock.
	var _ Clock = Real()
}

func TestFakeClockConcurrentAccess(t *testing.T) {
	clock := Fake(epoch)
	const goroutines = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(1 * time.Second)
			clock.Now()
		}()
	}
	wg.Wait()
}
