package agents

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/morphos-dev/morphos/pkg/schema"
)

const (
	defaultAgentTimeout  = 10 * time.Minute
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
)

// CLIAdapterConfig configures a CLIAdapter.
type CLIAdapterConfig struct {
	// ProviderName is the registry key ("default" when empty).
	ProviderName string
	// Command is the agent binary, e.g. "claude".
	Command string
	// Args precede the generated flags.
	Args []string
	// ModelFlag names the flag carrying Request.Model, e.g. "--model".
	// Empty disables model selection.
	ModelFlag string
	Timeout   time.Duration
	// MaxOutputSize caps captured stdout; excess bytes are discarded.
	MaxOutputSize int64
}

// CLIAdapter runs agent turns by spawning a command-line agent process.
// The prompt is written to stdin; stdout lines stream back as deltas and
// the full output becomes the node result when the process exits.
type CLIAdapter struct {
	cfg CLIAdapterConfig
}

// NewCLIAdapter creates a CLIAdapter, applying config defaults.
func NewCLIAdapter(cfg CLIAdapterConfig) *CLIAdapter {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAgentTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	return &CLIAdapter{cfg: cfg}
}

func (a *CLIAdapter) Name() string { return a.cfg.ProviderName }

// Stream spawns the agent process and streams its lifecycle. The returned
// channel is closed after a terminal event (completed, interrupted, errored).
func (a *CLIAdapter) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if a.cfg.Command == "" {
		return nil, schema.NewError(schema.ErrCodeExecution, "agent adapter has no command configured")
	}

	args := append([]string(nil), a.cfg.Args...)
	if a.cfg.ModelFlag != "" && req.Model != "" {
		args = append(args, a.cfg.ModelFlag, req.Model)
	}

	execCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)

	cmd := exec.CommandContext(execCtx, a.cfg.Command, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	if req.WorkingDirectory != "" {
		cmd.Dir = req.WorkingDirectory
	}
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, schema.NewError(schema.ErrCodeExecution, "open agent stdout").WithCause(err)
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: a.cfg.MaxOutputSize}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "start agent %q: %v", a.cfg.Command, err).WithCause(err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer cancel()

		events <- Event{Kind: EventStarted}

		var outBuf bytes.Buffer
		lw := &limitedWriter{w: &outBuf, limit: a.cfg.MaxOutputSize}
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			_, _ = lw.Write([]byte(line + "\n"))
			events <- Event{Kind: EventDelta, Delta: line}
		}

		runErr := cmd.Wait()

		if ctx.Err() != nil {
			events <- Event{Kind: EventInterrupted, Err: ctx.Err()}
			return
		}
		if execCtx.Err() == context.DeadlineExceeded {
			events <- Event{Kind: EventErrored, Err: schema.NewErrorf(schema.ErrCodeExecution,
				"agent %q timed out after %s", a.cfg.Command, a.cfg.Timeout)}
			return
		}
		if runErr != nil {
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				events <- Event{Kind: EventErrored, Err: schema.NewErrorf(schema.ErrCodeExecution,
					"agent %q exited with code %d: %s", a.cfg.Command, exitErr.ExitCode(),
					strings.TrimSpace(stderrBuf.String()))}
			} else {
				events <- Event{Kind: EventErrored, Err: schema.NewErrorf(schema.ErrCodeExecution,
					"agent %q: %v", a.cfg.Command, runErr).WithCause(runErr)}
			}
			return
		}

		events <- Event{Kind: EventCompleted, Result: ParseResult(outBuf.String())}
	}()

	return events, nil
}

// ParseResult converts raw agent output into a structured result map.
// Valid JSON objects pass through; any other output, including JSON
// scalars and arrays, is wrapped as {"result": <text>}.
func ParseResult(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return m
		}
	}
	return map[string]any{"result": trimmed}
}

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed to prevent the subprocess
// from blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}

var _ Adapter = (*CLIAdapter)(nil)
