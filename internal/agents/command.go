package agents

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/flitsinc/go-duet/internal/event"
)

// Command runs an external program for every turn. The prompt is written to
// its stdin and each stdout line becomes one chunk. A line may start with an
// act tag such as "[PROPOSE] ", otherwise Act is used. The limits are passed
// as GO_DUET_MAX_TOKENS and GO_DUET_SLICE_MS.
type Command struct {
	Argv []string
	Act  string
	Dir  string
}

// NewShellCommand runs command through /bin/sh -c.
func NewShellCommand(command string) *Command {
	return &Command{Argv: []string{"/bin/sh", "-c", command}, Act: event.ActReport}
}

func (c *Command) Stream(ctx context.Context, prompt string, maxTokens, sliceMs int) iter.Seq2[event.Chunk, error] {
	return func(yield func(event.Chunk, error) bool) {
		if len(c.Argv) == 0 {
			yield(event.Chunk{}, fmt.Errorf("agent command is empty"))
			return
		}
		cmdCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := exec.CommandContext(cmdCtx, c.Argv[0], c.Argv[1:]...)
		cmd.Dir = c.Dir
		cmd.Stdin = strings.NewReader(prompt)
		cmd.Env = append(cmd.Environ(),
			"GO_DUET_MAX_TOKENS="+strconv.Itoa(maxTokens),
			"GO_DUET_SLICE_MS="+strconv.Itoa(sliceMs),
		)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		cmd.WaitDelay = 2 * time.Second
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(event.Chunk{}, fmt.Errorf("agent stdout: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(event.Chunk{}, fmt.Errorf("start agent %s: %w", c.Argv[0], err))
			return
		}

		stopped := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !yield(c.chunk(line), nil) {
				stopped = true
				break
			}
		}
		if stopped {
			cancel()
			_ = cmd.Wait()
			return
		}
		scanErr := scanner.Err()
		waitErr := cmd.Wait()
		if err := ctx.Err(); err != nil {
			yield(event.Chunk{}, err)
			return
		}
		if scanErr != nil {
			yield(event.Chunk{}, fmt.Errorf("read agent output: %w", scanErr))
			return
		}
		if waitErr != nil {
			yield(event.Chunk{}, fmt.Errorf("agent %s: %w", c.Argv[0], waitErr))
		}
	}
}

func (c *Command) chunk(line string) event.Chunk {
	act := c.Act
	if act == "" {
		act = event.ActReport
	}
	if strings.HasPrefix(line, "[") {
		if end := strings.IndexByte(line, ']'); end > 1 {
			tag := line[1:end]
			if tag == strings.ToUpper(tag) && !strings.ContainsAny(tag, " \t") {
				return event.Chunk{Text: strings.TrimPrefix(line[end+1:], " ") + "\n", Act: tag}
			}
		}
	}
	return event.Chunk{Text: line + "\n", Act: act}
}
