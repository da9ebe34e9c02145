package event

import (
	"testing"
	"time"
)

func TestWatermarkRoundsToInterval(t *testing.T) {
	base := time.UnixMilli(1_000_037)
	w := NewWatermark(10*time.Millisecond, WithNow(func() time.Time { return base }))
	if got := w.Tick(); got != 1_000_030 {
		t.Fatalf("expected 1000030, got %d", got)
	}
	if got := w.Now(); got != 1_000_030 {
		t.Fatalf("now should not advance, got %d", got)
	}
}

func TestWatermarkNeverGoesBackwards(t *testing.T) {
	readings := []int64{5_000, 5_020, 4_000, 5_010, 6_000}
	i := 0
	w := NewWatermark(time.Millisecond, WithNow(func() time.Time {
		ms := readings[i]
		if i < len(readings)-1 {
			i++
		}
		return time.UnixMilli(ms)
	}))

	var prev int64
	for range readings {
		got := w.Tick()
		if got < prev {
			t.Fatalf("watermark went backwards: %d after %d", got, prev)
		}
		prev = got
	}
	if prev != 6_000 {
		t.Fatalf("expected final reading 6000, got %d", prev)
	}
}

func TestWatermarkRepeatsWithinTick(t *testing.T) {
	now := time.UnixMilli(2_000)
	w := NewWatermark(100*time.Millisecond, WithNow(func() time.Time { return now }))
	first := w.Tick()
	now = now.Add(40 * time.Millisecond)
	second := w.Tick()
	if first != second {
		t.Fatalf("expected same tick, got %d and %d", first, second)
	}
}

func TestWatermarkFollowsElapsedTimeFromConstruction(t *testing.T) {
	start := time.Now()
	now := start
	w := NewWatermark(time.Millisecond, WithNow(func() time.Time { return now }))
	now = start.Add(1500 * time.Millisecond)
	if got, want := w.Tick(), start.UnixMilli()+1500; got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}
