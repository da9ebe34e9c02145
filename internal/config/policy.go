package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flitsinc/go-duet/internal/buffer"
	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/policy"
	"github.com/flitsinc/go-duet/internal/prompt"
)

// Policy is the YAML policy file. Floor and trigger settings sit at the top
// level next to the buffer, prompt and clock sections.
type Policy struct {
	policy.Config `yaml:",inline"`

	Buffer BufferConfig `yaml:"buffer"`
	Prompt PromptConfig `yaml:"prompt"`
	Clock  ClockConfig  `yaml:"clock"`
}

type BufferConfig struct {
	MaxLen       int `yaml:"maxlen"`
	SummaryChars int `yaml:"summaryChars"`
}

type PromptConfig struct {
	MaxLines int `yaml:"maxLines"`
	// MaxChars bounds the whole prompt; zero means no bound.
	MaxChars int `yaml:"maxChars"`
}

type ClockConfig struct {
	TickMs int `yaml:"tickMs"`
}

func DefaultPolicy() Policy {
	return Policy{
		Config: policy.DefaultConfig(),
		Buffer: BufferConfig{MaxLen: buffer.DefaultMaxLen, SummaryChars: buffer.DefaultSummaryChars},
		Prompt: PromptConfig{MaxLines: prompt.DefaultMaxLines},
		Clock:  ClockConfig{TickMs: int(event.DefaultTickInterval / time.Millisecond)},
	}
}

// LoadPolicy reads a policy file over the defaults. Unknown keys are errors.
func LoadPolicy(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()
	return DecodePolicy(f)
}

func DecodePolicy(r io.Reader) (Policy, error) {
	p := DefaultPolicy()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	return p.Normalize(), nil
}

func (p Policy) Normalize() Policy {
	p.Config = p.Config.Normalize()
	if p.Buffer.MaxLen <= 0 {
		p.Buffer.MaxLen = buffer.DefaultMaxLen
	}
	if p.Buffer.SummaryChars <= 0 {
		p.Buffer.SummaryChars = buffer.DefaultSummaryChars
	}
	if p.Prompt.MaxLines <= 0 {
		p.Prompt.MaxLines = prompt.DefaultMaxLines
	}
	if p.Prompt.MaxChars < 0 {
		p.Prompt.MaxChars = 0
	}
	if p.Clock.TickMs <= 0 {
		p.Clock.TickMs = int(event.DefaultTickInterval / time.Millisecond)
	}
	return p
}

func (p Policy) TickInterval() time.Duration {
	return time.Duration(p.Clock.TickMs) * time.Millisecond
}
