package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flitsinc/go-duet/internal/event"
)

const (
	defaultPollInterval = time.Second
	maxRecordBytes      = 4 * 1024 * 1024
)

// JSONL appends one JSON event per line to a log file and tails a separate
// inbox file for user input written by other processes.
type JSONL struct {
	logPath   string
	inboxPath string
	logger    *slog.Logger
	sync      bool
	poll      time.Duration

	mu     sync.Mutex
	file   *os.File
	closed bool

	submitMu sync.Mutex
}

type JSONLOption func(*JSONL)

// WithSync fsyncs the log after every append.
func WithSync(enabled bool) JSONLOption {
	return func(j *JSONL) {
		j.sync = enabled
	}
}

func WithJSONLLogger(logger *slog.Logger) JSONLOption {
	return func(j *JSONL) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithPollInterval sets how often the inbox is re-read when no file
// notification arrives.
func WithPollInterval(interval time.Duration) JSONLOption {
	return func(j *JSONL) {
		if interval > 0 {
			j.poll = interval
		}
	}
}

func OpenJSONL(logPath, inboxPath string, opts ...JSONLOption) (*JSONL, error) {
	if strings.TrimSpace(logPath) == "" {
		return nil, errors.New("log path is required")
	}
	j := &JSONL{
		logPath:   logPath,
		inboxPath: inboxPath,
		logger:    slog.Default(),
		poll:      defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	j.file = file
	if inboxPath != "" {
		if err := os.MkdirAll(filepath.Dir(inboxPath), 0o755); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("create inbox dir: %w", err)
		}
		inbox, err := os.OpenFile(inboxPath, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("open inbox: %w", err)
		}
		_ = inbox.Close()
	}
	j.logger = j.logger.With("component", "sink", "sink", "jsonl")
	return j, nil
}

func (j *JSONL) LogPath() string {
	return j.logPath
}

func (j *JSONL) InboxPath() string {
	return j.inboxPath
}

// Append writes ev as one line. The write is complete when Append returns.
func (j *JSONL) Append(_ context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	if j.sync {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("sync log: %w", err)
		}
	}
	return nil
}

// Submit appends user text to the inbox file.
func (j *JSONL) Submit(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if j.inboxPath == "" {
		return errors.New("inbox is not configured")
	}
	data, err := json.Marshal(event.Event{Role: event.RoleUser, Stream: event.StreamUI, Act: event.ActInput, Text: text})
	if err != nil {
		return fmt.Errorf("encode inbox record: %w", err)
	}
	data = append(data, '\n')

	j.submitMu.Lock()
	defer j.submitMu.Unlock()
	f, err := os.OpenFile(j.inboxPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open inbox: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write inbox: %w", err)
	}
	return nil
}

// Tail yields inbox records written after Tail was called. Lines are either
// JSON events or plain text. The file is re-read on fsnotify events and on a
// slow poll as a fallback.
func (j *JSONL) Tail(ctx context.Context) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		if j.inboxPath == "" {
			<-ctx.Done()
			return
		}
		offset, err := fileSize(j.inboxPath)
		if err != nil {
			yield(event.Event{}, err)
			return
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			yield(event.Event{}, fmt.Errorf("create watcher: %w", err))
			return
		}
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(j.inboxPath)); err != nil {
			yield(event.Event{}, fmt.Errorf("watch inbox dir: %w", err))
			return
		}
		target := filepath.Clean(j.inboxPath)

		ticker := time.NewTicker(j.poll)
		defer ticker.Stop()

		var pending []byte
		drain := func() bool {
			records, next, rest, err := readInbox(j.inboxPath, offset, pending)
			if err != nil {
				j.logger.Warn("inbox read failed", "path", j.inboxPath, "error", err)
				return true
			}
			offset, pending = next, rest
			for _, ev := range records {
				if !yield(ev, nil) {
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if !drain() {
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				j.logger.Warn("inbox watcher error", "error", err)
			case <-ticker.C:
				if !drain() {
					return
				}
			}
		}
	}
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat inbox: %w", err)
	}
	return info.Size(), nil
}

// readInbox reads complete lines after offset. A trailing partial line is
// returned as rest and prefixed to the next read. A file that shrank is read
// again from the start.
func readInbox(path string, offset int64, pending []byte) ([]event.Event, int64, []byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil, nil
	}
	if err != nil {
		return nil, offset, pending, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, offset, pending, err
	}
	if info.Size() < offset {
		offset, pending = 0, nil
	}
	if info.Size() == offset {
		return nil, offset, pending, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, pending, err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxRecordBytes))
	if err != nil {
		return nil, offset, pending, err
	}
	next := offset + int64(len(data))
	data = append(pending, data...)

	var out []event.Event
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(data[:idx])
		data = data[idx+1:]
		if ev, ok := parseInboxLine(line); ok {
			out = append(out, ev)
		}
	}
	return out, next, append([]byte(nil), data...), nil
}

func parseInboxLine(line []byte) (event.Event, bool) {
	if len(line) == 0 {
		return event.Event{}, false
	}
	if line[0] == '{' {
		var ev event.Event
		if err := json.Unmarshal(line, &ev); err == nil {
			if strings.TrimSpace(ev.Text) == "" {
				return event.Event{}, false
			}
			return ev, true
		}
	}
	return event.Event{Role: event.RoleUser, Stream: event.StreamUI, Act: event.ActInput, Text: string(line)}, true
}

// ReadLog reads every event of a JSONL log in file order.
func ReadLog(path string) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var out []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return out, fmt.Errorf("decode line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read log: %w", err)
	}
	return out, nil
}
