package policy

import (
	"sync"
	"time"
)

// FloorPolicy is the turn-arbitration surface the orchestrator consumes.
type FloorPolicy interface {
	MarkUserActive()
	IsUserActive() bool
	NextSpeaker() string
	Slice() time.Duration
}

// TriggerPolicy is the per-agent cadence surface the orchestrator consumes.
type TriggerPolicy interface {
	Activity()
	ShouldEmit() bool
	Decay()
	MarkEmitted()
	MaxTokens() int
}

// Static is the default policy provider: one shared floor and one trigger per
// agent, all built from a single Config.
type Static struct {
	cfg      Config
	floor    *Floor
	trigOpts []TriggerOption

	mu       sync.Mutex
	triggers map[string]*Trigger
}

type StaticOption func(*Static)

func WithFloorOptions(opts ...FloorOption) StaticOption {
	return func(s *Static) {
		s.floor = NewFloor(s.cfg.Floor, s.floor.Agents(), opts...)
	}
}

func WithTriggerOptions(opts ...TriggerOption) StaticOption {
	return func(s *Static) {
		s.trigOpts = append(s.trigOpts, opts...)
	}
}

func NewStatic(cfg Config, agents []string, opts ...StaticOption) *Static {
	cfg = cfg.Normalize()
	s := &Static{
		cfg:      cfg,
		floor:    NewFloor(cfg.Floor, agents),
		triggers: map[string]*Trigger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	for _, id := range agents {
		s.triggers[id] = NewTrigger(cfg.Trigger, s.trigOpts...)
	}
	return s
}

func (s *Static) Config() Config {
	return s.cfg
}

func (s *Static) Floor() FloorPolicy {
	return s.floor
}

func (s *Static) TriggerFor(role string) TriggerPolicy {
	return s.Trigger(role)
}

// Trigger returns the concrete trigger for role, creating it on first use.
func (s *Static) Trigger(role string) *Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[role]
	if !ok {
		t = NewTrigger(s.cfg.Trigger, s.trigOpts...)
		s.triggers[role] = t
	}
	return t
}

func (s *Static) SilentAct() string {
	return s.cfg.Trigger.SilentAct
}
