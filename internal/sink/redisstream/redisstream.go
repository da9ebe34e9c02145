// Package redisstream stores the event log in a Redis stream and reads user
// input from a second stream.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flitsinc/go-duet/internal/event"
)

const (
	defaultBlock = time.Second
	readCount    = 32
)

type Sink struct {
	client      *redis.Client
	logStream   string
	inboxStream string
	maxLen      int64
	block       time.Duration
	logger      *slog.Logger
}

type Option func(*Sink)

// WithMaxLen caps the log stream at roughly n entries.
func WithMaxLen(n int64) Option {
	return func(s *Sink) {
		s.maxLen = n
	}
}

// WithBlock sets how long one inbox read blocks before ctx is checked again.
func WithBlock(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.block = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New uses the streams "<prefix>:events" and "<prefix>:inbox".
func New(client *redis.Client, prefix string, opts ...Option) *Sink {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "duet"
	}
	s := &Sink{
		client:      client,
		logStream:   prefix + ":events",
		inboxStream: prefix + ":inbox",
		block:       defaultBlock,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With("component", "sink", "sink", "redis", "stream", s.logStream)
	return s
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, prefix string, opts ...Option) (*Sink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client, prefix, opts...), nil
}

func (s *Sink) Append(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.logStream,
		Values: map[string]any{"seq": ev.Seq, "event": string(data)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd event %d: %w", ev.Seq, err)
	}
	return nil
}

// Submit adds user text to the inbox stream.
func (s *Sink) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.inboxStream,
		Values: map[string]any{"text": text},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd inbox: %w", err)
	}
	return nil
}

// Tail yields inbox entries added after Tail was called.
func (s *Sink) Tail(ctx context.Context) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		lastID := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
		for {
			if ctx.Err() != nil {
				return
			}
			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{s.inboxStream, lastID},
				Count:   readCount,
				Block:   s.block,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(event.Event{}, fmt.Errorf("xread inbox: %w", err))
				return
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					text, _ := msg.Values["text"].(string)
					if strings.TrimSpace(text) == "" {
						continue
					}
					ev := event.Event{
						Role:   event.RoleUser,
						Stream: event.StreamUI,
						Act:    event.ActInput,
						Text:   text,
						Meta:   map[string]any{"redis_id": msg.ID},
					}
					if !yield(ev, nil) {
						return
					}
				}
			}
		}
	}
}

// Events reads back the whole log stream in append order.
func (s *Sink) Events(ctx context.Context) ([]event.Event, error) {
	msgs, err := s.client.XRange(ctx, s.logStream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange events: %w", err)
	}
	out := make([]event.Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, _ := msg.Values["event"].(string)
		var ev event.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return out, fmt.Errorf("decode entry %s: %w", msg.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Purge deletes both streams.
func (s *Sink) Purge(ctx context.Context) error {
	return s.client.Del(ctx, s.logStream, s.inboxStream).Err()
}

func (s *Sink) Close() error {
	return s.client.Close()
}
