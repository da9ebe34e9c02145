package event

import (
	"sync"
	"time"
)

const DefaultTickInterval = 10 * time.Millisecond

// Watermark is the logical clock that stamps WatermarkTimeMs. Readings are
// the wall-clock time at construction plus the monotonic time elapsed since,
// in milliseconds rounded down to the tick interval. They never go backwards.
type Watermark struct {
	mu       sync.Mutex
	interval int64
	nowFn    func() time.Time
	start    time.Time
	startMs  int64
	last     int64
}

type WatermarkOption func(*Watermark)

func WithNow(nowFn func() time.Time) WatermarkOption {
	return func(w *Watermark) {
		if nowFn != nil {
			w.nowFn = nowFn
		}
	}
}

func NewWatermark(interval time.Duration, opts ...WatermarkOption) *Watermark {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ms := interval.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	w := &Watermark{interval: ms, nowFn: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.start = w.nowFn()
	w.startMs = w.start.UnixMilli()
	return w
}

// Tick advances the clock and returns the new reading.
func (w *Watermark) Tick() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	ms := w.startMs + w.nowFn().Sub(w.start).Milliseconds()
	ms -= ms % w.interval
	if ms < w.last {
		ms = w.last
	}
	w.last = ms
	return ms
}

// Now returns the last reading without advancing. Zero before the first Tick.
func (w *Watermark) Now() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
