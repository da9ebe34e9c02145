package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/flitsinc/go-duet/internal/event"
)

const (
	lineBuffer   = 256
	stopTimeout  = 3 * time.Second
	maxLineBytes = 1024 * 1024
)

// Process runs a command and streams its stdout and stderr lines.
type Process struct {
	name   string
	argv   []string
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	lines   chan event.ToolEvent
	stopped chan struct{}
	exited  chan struct{}
	once    sync.Once
}

type ProcessOption func(*Process)

func WithDir(dir string) ProcessOption {
	return func(p *Process) {
		p.dir = dir
	}
}

func WithLogger(logger *slog.Logger) ProcessOption {
	return func(p *Process) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProcess(name string, argv []string, opts ...ProcessOption) *Process {
	p := &Process{
		name:   strings.TrimSpace(name),
		argv:   append([]string(nil), argv...),
		logger: slog.Default(),
	}
	if p.name == "" && len(argv) > 0 {
		p.name = argv[0]
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// NewShellCommand wraps a shell command line as a process tool.
func NewShellCommand(name, command string, opts ...ProcessOption) *Process {
	return NewProcess(name, []string{"/bin/sh", "-c", command}, opts...)
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil
	}
	if len(p.argv) == 0 {
		return errors.New("command is required")
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Dir = p.dir
	// Own process group so Stop also reaches grandchildren holding the pipes.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.name, err)
	}

	p.cmd = cmd
	p.lines = make(chan event.ToolEvent, lineBuffer)
	p.stopped = make(chan struct{})
	p.exited = make(chan struct{})

	var readers sync.WaitGroup
	readers.Add(2)
	go p.scan(&readers, stdout, "stdout")
	go p.scan(&readers, stderr, "stderr")
	go func() {
		readers.Wait()
		err := cmd.Wait()
		p.emit(p.exitEvent(err))
		close(p.lines)
		close(p.exited)
	}()
	p.logger.Info("tool process started", "tool", p.name, "pid", cmd.Process.Pid)
	return nil
}

func (p *Process) scan(wg *sync.WaitGroup, r io.Reader, fd string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		p.emit(event.ToolEvent{
			Text:   line,
			Act:    event.ActToolOut,
			Stream: event.StreamTool,
			Meta:   map[string]any{event.MetaTool: p.name, event.MetaFD: fd},
		})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("tool output read failed", "tool", p.name, "fd", fd, "error", err)
	}
}

func (p *Process) emit(ev event.ToolEvent) {
	select {
	case p.lines <- ev:
	case <-p.stopped:
	}
}

func (p *Process) exitEvent(err error) event.ToolEvent {
	text := fmt.Sprintf("%s exited", p.name)
	if err != nil {
		text = fmt.Sprintf("%s exited: %v", p.name, err)
	}
	return event.ToolEvent{
		Text:   text,
		Act:    event.ActToolOut,
		Stream: event.StreamTool,
		Meta:   map[string]any{event.MetaTool: p.name, "exit": true},
	}
}

// Output yields process lines until ctx is cancelled or the process exits.
func (p *Process) Output(ctx context.Context) iter.Seq2[event.ToolEvent, error] {
	return func(yield func(event.ToolEvent, error) bool) {
		p.mu.Lock()
		lines := p.lines
		p.mu.Unlock()
		if lines == nil {
			yield(event.ToolEvent{}, fmt.Errorf("tool %s not started", p.name))
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

// Stop kills the process and waits for it to exit.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	p.once.Do(func() { close(p.stopped) })

	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill %s: %w", p.name, err)
		}
	}
	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%s did not exit within %s", p.name, stopTimeout)
	}
}
