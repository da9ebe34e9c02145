package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/flitsinc/go-duet/internal/event"
)

const (
	defaultShell = "/bin/sh"
	shellRows    = 40
	shellCols    = 200
)

// Shell is an interactive shell running on a pseudo-terminal. Lines written
// with Send are executed by the shell; everything the terminal prints is
// streamed back as tool output.
type Shell struct {
	name   string
	path   string
	env    []string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	tty     *os.File
	lines   chan event.ToolEvent
	stopped chan struct{}
	exited  chan struct{}
	once    sync.Once
}

func NewShell(name, path string, logger *slog.Logger) *Shell {
	if strings.TrimSpace(name) == "" {
		name = "shell"
	}
	if strings.TrimSpace(path) == "" {
		path = defaultShell
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{
		name:   name,
		path:   path,
		env:    append(os.Environ(), "TERM=dumb", "PS1=$ "),
		logger: logger,
	}
}

func (s *Shell) Name() string {
	return s.name
}

func (s *Shell) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}
	cmd := exec.Command(s.path)
	cmd.Env = s.env
	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: shellRows, Cols: shellCols})
	if err != nil {
		return fmt.Errorf("start pty shell: %w", err)
	}
	s.cmd = cmd
	s.tty = tty
	s.lines = make(chan event.ToolEvent, lineBuffer)
	s.stopped = make(chan struct{})
	s.exited = make(chan struct{})

	go s.read(tty)
	s.logger.Info("pty shell started", "tool", s.name, "pid", cmd.Process.Pid)
	return nil
}

func (s *Shell) read(tty *os.File) {
	defer close(s.exited)
	defer close(s.lines)
	scanner := bufio.NewScanner(tty)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case s.lines <- event.ToolEvent{
			Text:   line,
			Act:    event.ActToolOut,
			Stream: event.StreamTool,
			Meta:   map[string]any{event.MetaTool: s.name, event.MetaFD: "pty"},
		}:
		case <-s.stopped:
			return
		}
	}
	// Linux reports EIO once the shell side of the pty closes.
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !isPTYClosed(err) {
		s.logger.Warn("pty read failed", "tool", s.name, "error", err)
	}
}

func isPTYClosed(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}

// Send writes one command line to the shell.
func (s *Shell) Send(line string) error {
	s.mu.Lock()
	tty := s.tty
	s.mu.Unlock()
	if tty == nil {
		return fmt.Errorf("tool %s not started", s.name)
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := tty.WriteString(line); err != nil {
		return fmt.Errorf("write to %s: %w", s.name, err)
	}
	return nil
}

func (s *Shell) Output(ctx context.Context) iter.Seq2[event.ToolEvent, error] {
	return func(yield func(event.ToolEvent, error) bool) {
		s.mu.Lock()
		lines := s.lines
		s.mu.Unlock()
		if lines == nil {
			yield(event.ToolEvent{}, fmt.Errorf("tool %s not started", s.name))
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-lines:
				if !ok {
					return
				}
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func (s *Shell) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd, tty := s.cmd, s.tty
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}
	s.once.Do(func() { close(s.stopped) })

	var errs []error
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("kill %s: %w", s.name, err))
	}
	_ = cmd.Wait()
	if err := tty.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}
	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-s.exited:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	case <-timer.C:
		errs = append(errs, fmt.Errorf("%s reader did not stop within %s", s.name, stopTimeout))
	}
	return errors.Join(errs...)
}
