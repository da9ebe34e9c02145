// Package eventbus persists the event log in SQLite, serves the inbox table
// as the user input channel, and fans committed events out to subscribers.
package eventbus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/idgen"
	"github.com/flitsinc/go-duet/internal/state"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	subscriberBuffer    = 64
)

type Bus struct {
	db        *sql.DB
	sessionID string
	poll      time.Duration
	logger    *slog.Logger

	mu   sync.RWMutex
	subs map[string]*subscriber

	// wake nudges Tail after an in-process Submit.
	wake chan struct{}
}

type subscriber struct {
	roles map[string]struct{}
	ch    chan event.Event
}

type Option func(*Bus)

// WithSession scopes appends, history and the inbox to one session.
func WithSession(id string) Option {
	return func(b *Bus) {
		b.sessionID = id
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.poll = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewBus(db *sql.DB, opts ...Option) *Bus {
	b := &Bus{
		db:        db,
		sessionID: "default",
		poll:      defaultPollInterval,
		logger:    slog.Default(),
		subs:      map[string]*subscriber{},
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = b.logger.With("component", "eventbus")
	return b
}

func (b *Bus) SessionID() string {
	return b.sessionID
}

// Append persists ev. It does not broadcast; committed events reach
// subscribers through Publish.
func (b *Bus) Append(ctx context.Context, ev event.Event) error {
	metaJSON, err := state.EncodeJSON(ev.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if metaJSON == nil {
		metaJSON = "{}"
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, watermark_ms, role, stream, act, text, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.sessionID, ev.Seq, ev.WatermarkTimeMs, ev.Role, ev.Stream, ev.Act, ev.Text, metaJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns persisted events of the bus session.
func (b *Bus) List(ctx context.Context, opts ListOptions) ([]event.Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 200
	}
	orderBy := "seq ASC"
	if strings.EqualFold(opts.Order, "lifo") {
		orderBy = "seq DESC"
	}

	where := "WHERE session_id = ? AND seq > ?"
	args := []any{b.sessionID, opts.AfterSeq}
	if roles := filterEmpty(opts.Roles); len(roles) > 0 {
		where += " AND role IN (" + strings.TrimSuffix(strings.Repeat("?,", len(roles)), ",") + ")"
		for _, r := range roles {
			args = append(args, r)
		}
	}
	query := fmt.Sprintf(`SELECT seq, watermark_ms, role, stream, act, text, meta FROM events %s ORDER BY %s LIMIT ?`, where, orderBy)
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var meta sql.NullString
		if err := rows.Scan(&ev.Seq, &ev.WatermarkTimeMs, &ev.Role, &ev.Stream, &ev.Act, &ev.Text, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Meta = event.CloneMeta(state.DecodeJSONMap(meta.String))
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Submit queues user input for the bus session.
func (b *Bus) Submit(ctx context.Context, text string, meta map[string]any) (InboxItem, error) {
	if strings.TrimSpace(text) == "" {
		return InboxItem{}, fmt.Errorf("text is required")
	}
	metaJSON, err := state.EncodeJSON(meta)
	if err != nil {
		return InboxItem{}, fmt.Errorf("encode meta: %w", err)
	}
	item := InboxItem{
		ID:        idgen.NewULID(),
		SessionID: b.sessionID,
		Text:      text,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
	_, err = b.db.ExecContext(ctx, `INSERT INTO inbox (id, session_id, text, meta, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.SessionID, item.Text, metaJSON, item.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return InboxItem{}, fmt.Errorf("insert inbox: %w", err)
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return item, nil
}

// Pending returns unconsumed inbox rows for the session, oldest first. Rows
// submitted without a session are visible to every session.
func (b *Bus) Pending(ctx context.Context, limit int) ([]InboxItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, session_id, text, meta, created_at FROM inbox
		WHERE consumed_at IS NULL AND (session_id = ? OR session_id IS NULL)
		ORDER BY id ASC LIMIT ?
	`, b.sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	var out []InboxItem
	for rows.Next() {
		var item InboxItem
		var sessionID, meta sql.NullString
		var createdAtStr string
		if err := rows.Scan(&item.ID, &sessionID, &item.Text, &meta, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan inbox: %w", err)
		}
		item.SessionID = sessionID.String
		item.Meta = state.DecodeJSONMap(meta.String)
		item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox: %w", err)
	}
	return out, nil
}

// Ack marks inbox rows consumed by this session.
func (b *Bus) Ack(ctx context.Context, ids []string) error {
	ids = filterEmpty(ids)
	if len(ids) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ack tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE inbox SET consumed_by = ?, consumed_at = ? WHERE id = ? AND consumed_at IS NULL`, b.sessionID, now, id); err != nil {
			return fmt.Errorf("update inbox: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ack: %w", err)
	}
	return nil
}

// Tail yields pending inbox rows as user input events and acknowledges each
// row once the consumer has taken it. Rows are polled, and Submit on the same
// Bus wakes the poll early.
func (b *Bus) Tail(ctx context.Context) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		ticker := time.NewTicker(b.poll)
		defer ticker.Stop()
		for {
			items, err := b.Pending(ctx, 0)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("inbox poll failed", "error", err)
			}
			for _, item := range items {
				ev := event.Event{
					Role:   event.RoleUser,
					Stream: event.StreamUI,
					Act:    event.ActInput,
					Text:   item.Text,
					Meta:   item.Meta,
				}
				if !yield(ev, nil) {
					return
				}
				if err := b.Ack(context.WithoutCancel(ctx), []string{item.ID}); err != nil {
					b.logger.Warn("inbox ack failed", "id", item.ID, "error", err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-b.wake:
			}
		}
	}
}

// Publish fans ev out to subscribers without blocking; slow subscribers
// miss events.
func (b *Bus) Publish(ev event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.roles) > 0 {
			if _, ok := sub.roles[ev.Role]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			// Drop if subscriber is slow.
		}
	}
}

// Subscribe returns a channel of published events for the given roles (all
// roles when empty). The channel is closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, roles []string) <-chan event.Event {
	ch := make(chan event.Event, subscriberBuffer)
	roleSet := map[string]struct{}{}
	for _, r := range roles {
		if r == "" {
			continue
		}
		roleSet[r] = struct{}{}
	}
	id := ulid.Make().String()

	sub := &subscriber{roles: roleSet, ch: ch}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// LastSeq returns the highest persisted seq of the session, 0 when empty.
func (b *Bus) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := b.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE session_id = ?`, b.sessionID).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

func filterEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
