package policy

import (
	"sync"
	"time"
)

// Trigger gates how eagerly one agent may start a turn. It stays quiet for
// MinSilence after any activity, except that MaxLatency after the agent's own
// last emission it may speak regardless. Skipped polls only accumulate a
// backoff count; they never shorten either bound.
type Trigger struct {
	mu         sync.Mutex
	maxLatency time.Duration
	minSilence time.Duration
	grace      time.Duration
	maxTokens  int
	nowFn      func() time.Time

	createdAt    time.Time
	lastActivity time.Time
	hasActivity  bool
	lastEmit     time.Time
	skips        int
}

type TriggerOption func(*Trigger)

func WithTriggerClock(nowFn func() time.Time) TriggerOption {
	return func(t *Trigger) {
		if nowFn != nil {
			t.nowFn = nowFn
		}
	}
}

func NewTrigger(cfg TriggerConfig, opts ...TriggerOption) *Trigger {
	def := DefaultConfig().Trigger
	t := &Trigger{
		maxLatency: seconds(cfg.MaxLatencyS),
		minSilence: seconds(cfg.MinSilenceS),
		grace:      seconds(cfg.GraceS),
		maxTokens:  cfg.MaxTokens,
		nowFn:      time.Now,
	}
	if t.maxLatency <= 0 {
		t.maxLatency = seconds(def.MaxLatencyS)
	}
	if t.minSilence < 0 {
		t.minSilence = 0
	}
	if t.grace < 0 {
		t.grace = 0
	}
	if t.maxTokens <= 0 {
		t.maxTokens = def.MaxTokens
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.createdAt = t.nowFn()
	t.lastEmit = t.createdAt
	return t
}

func (t *Trigger) Activity() {
	t.mu.Lock()
	t.lastActivity = t.nowFn()
	t.hasActivity = true
	t.mu.Unlock()
}

func (t *Trigger) ShouldEmit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFn()
	if now.Sub(t.createdAt) < t.grace {
		return false
	}
	if !t.hasActivity || now.Sub(t.lastActivity) >= t.minSilence {
		return true
	}
	return now.Sub(t.lastEmit) >= t.maxLatency
}

// Decay records a skipped poll. Starvation is bounded by the latency
// override, which is measured from the last emission and so fires however
// many polls were skipped.
func (t *Trigger) Decay() {
	t.mu.Lock()
	if t.skips < 32 {
		t.skips++
	}
	t.mu.Unlock()
}

func (t *Trigger) MarkEmitted() {
	t.mu.Lock()
	t.lastEmit = t.nowFn()
	t.skips = 0
	t.mu.Unlock()
}

func (t *Trigger) MaxTokens() int {
	return t.maxTokens
}

// Skips reports how many polls were skipped since the last emission.
func (t *Trigger) Skips() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skips
}
