package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flitsinc/go-duet/internal/api"
	"github.com/flitsinc/go-duet/internal/config"
	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/eventbus"
	"github.com/flitsinc/go-duet/internal/orchestrator"
	"github.com/flitsinc/go-duet/internal/sink"
	"github.com/flitsinc/go-duet/internal/sink/redisstream"
)

// backend is an event sink that also accepts inbox submissions.
type backend interface {
	orchestrator.EventSink
	api.Inbox
	Close() error
}

// busBackend persists into the SQLite event bus. The database is owned by
// main, so Close is a no-op.
type busBackend struct {
	*eventbus.Bus
}

func (b busBackend) Submit(ctx context.Context, text string) error {
	_, err := b.Bus.Submit(ctx, text, map[string]any{event.MetaSource: "api"})
	return err
}

func (busBackend) Close() error { return nil }

func openBackend(ctx context.Context, cfg config.Config, bus *eventbus.Bus, logger *slog.Logger) (backend, error) {
	switch cfg.Sink {
	case config.SinkJSONL:
		j, err := sink.OpenJSONL(cfg.LogPath, cfg.InboxPath, sink.WithJSONLLogger(logger))
		if err != nil {
			return nil, err
		}
		return j, nil
	case config.SinkSQLite:
		return busBackend{Bus: bus}, nil
	case config.SinkMemory:
		return sink.NewMemory(), nil
	case config.SinkRedis:
		s, err := redisstream.Dial(ctx, cfg.RedisAddr, cfg.RedisStream, redisstream.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}
