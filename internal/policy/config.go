package policy

import (
	"strings"
	"time"
)

const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
)

type FloorConfig struct {
	SliceMs        int    `yaml:"sliceMs"`
	UserDebounceMs int    `yaml:"userDebounceMs"`
	Strategy       string `yaml:"strategy"`
}

type TriggerConfig struct {
	MaxLatencyS float64 `yaml:"maxLatencyS"`
	MinSilenceS float64 `yaml:"minSilenceS"`
	GraceS      float64 `yaml:"graceS"`
	MaxTokens   int     `yaml:"maxTokens"`
	SilentAct   string  `yaml:"silentAct"`
}

// Config is the policy section of the daemon configuration. Zero values are
// replaced with defaults by Normalize, except durations that are explicitly
// allowed to be zero (user debounce, min silence, grace).
type Config struct {
	Floor   FloorConfig   `yaml:"floor"`
	Trigger TriggerConfig `yaml:"trigger"`
}

func DefaultConfig() Config {
	return Config{
		Floor: FloorConfig{
			SliceMs:        550,
			UserDebounceMs: 1500,
			Strategy:       StrategyRoundRobin,
		},
		Trigger: TriggerConfig{
			MaxLatencyS: 1.0,
			MinSilenceS: 0.2,
			MaxTokens:   512,
			SilentAct:   "SILENT",
		},
	}
}

func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.Floor.SliceMs <= 0 {
		c.Floor.SliceMs = def.Floor.SliceMs
	}
	if c.Floor.UserDebounceMs < 0 {
		c.Floor.UserDebounceMs = 0
	}
	c.Floor.Strategy = strings.ToLower(strings.TrimSpace(c.Floor.Strategy))
	if c.Floor.Strategy != StrategyRandom {
		c.Floor.Strategy = StrategyRoundRobin
	}
	if c.Trigger.MaxLatencyS <= 0 {
		c.Trigger.MaxLatencyS = def.Trigger.MaxLatencyS
	}
	if c.Trigger.MinSilenceS < 0 {
		c.Trigger.MinSilenceS = 0
	}
	if c.Trigger.GraceS < 0 {
		c.Trigger.GraceS = 0
	}
	if c.Trigger.MaxTokens <= 0 {
		c.Trigger.MaxTokens = def.Trigger.MaxTokens
	}
	c.Trigger.SilentAct = strings.TrimSpace(c.Trigger.SilentAct)
	if c.Trigger.SilentAct == "" {
		c.Trigger.SilentAct = def.Trigger.SilentAct
	}
	return c
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
