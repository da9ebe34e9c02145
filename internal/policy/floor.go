package policy

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Speaker returned by NextSpeaker when the human holds the floor.
const SpeakerUser = "user"

// Strategy picks the next agent when the user does not hold the floor.
type Strategy interface {
	Next(agents []string) string
}

type roundRobin struct {
	next int
}

func (r *roundRobin) Next(agents []string) string {
	if len(agents) == 0 {
		return ""
	}
	pick := agents[r.next%len(agents)]
	r.next = (r.next + 1) % len(agents)
	return pick
}

type randomPick struct{}

func (randomPick) Next(agents []string) string {
	if len(agents) == 0 {
		return ""
	}
	return agents[rand.IntN(len(agents))]
}

func NewStrategy(name string) Strategy {
	if name == StrategyRandom {
		return randomPick{}
	}
	return &roundRobin{}
}

// Floor arbitrates whose turn it is. While the user is active no agent is
// ever selected.
type Floor struct {
	mu         sync.Mutex
	agents     []string
	slice      time.Duration
	debounce   time.Duration
	strategy   Strategy
	nowFn      func() time.Time
	lastUser   time.Time
	userMarked bool
}

type FloorOption func(*Floor)

func WithFloorClock(nowFn func() time.Time) FloorOption {
	return func(f *Floor) {
		if nowFn != nil {
			f.nowFn = nowFn
		}
	}
}

func WithStrategy(s Strategy) FloorOption {
	return func(f *Floor) {
		if s != nil {
			f.strategy = s
		}
	}
}

func NewFloor(cfg FloorConfig, agents []string, opts ...FloorOption) *Floor {
	def := DefaultConfig().Floor
	slice := cfg.SliceMs
	if slice <= 0 {
		slice = def.SliceMs
	}
	debounce := cfg.UserDebounceMs
	if debounce < 0 {
		debounce = 0
	}
	f := &Floor{
		agents:   append([]string(nil), agents...),
		slice:    time.Duration(slice) * time.Millisecond,
		debounce: time.Duration(debounce) * time.Millisecond,
		strategy: NewStrategy(cfg.Strategy),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func (f *Floor) MarkUserActive() {
	f.mu.Lock()
	f.lastUser = f.nowFn()
	f.userMarked = true
	f.mu.Unlock()
}

func (f *Floor) IsUserActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userActiveLocked()
}

func (f *Floor) userActiveLocked() bool {
	if !f.userMarked {
		return false
	}
	return f.nowFn().Sub(f.lastUser) < f.debounce
}

func (f *Floor) NextSpeaker() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userActiveLocked() {
		return SpeakerUser
	}
	return f.strategy.Next(f.agents)
}

// Slice is the scheduling granularity and the per-turn time budget hint.
func (f *Floor) Slice() time.Duration {
	return f.slice
}

func (f *Floor) Agents() []string {
	return append([]string(nil), f.agents...)
}
