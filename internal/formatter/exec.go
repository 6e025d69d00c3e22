package formatter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"dqlfmt/internal/logging"
)

// ExecConfig configures an external formatter process.
type ExecConfig struct {
	// Command is the binary to run, looked up in PATH.
	Command string
	// Args are passed to Command unchanged.
	Args []string
	// Timeout bounds a single call. Zero means DefaultExecTimeout.
	Timeout time.Duration
	// MaxOutputBytes caps captured stdout and stderr. Zero means
	// DefaultMaxOutputBytes.
	MaxOutputBytes int
	// Dir is the working directory of the process.
	Dir string
	// Env is appended to the current environment.
	Env []string
}

const (
	DefaultExecTimeout    = 10 * time.Second
	DefaultMaxOutputBytes = 1 << 20
)

// Exec runs an external command per call: DSL text on stdin, formatted
// text on stdout. A non-zero exit status is a formatting failure.
type Exec struct {
	config ExecConfig
}

// NewExec creates an external-process formatter.
func NewExec(config ExecConfig) (*Exec, error) {
	if strings.TrimSpace(config.Command) == "" {
		return nil, errors.New("formatter command is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultExecTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultMaxOutputBytes
	}
	logging.FormatterDebug("creating exec formatter: %s %v (timeout=%s)", config.Command, config.Args, config.Timeout)
	return &Exec{config: config}, nil
}

// Identity names the command line, so cached results are tied to it.
func (e *Exec) Identity() string {
	return strings.Join(append([]string{e.config.Command}, e.config.Args...), " ")
}

// Format runs the command once.
func (e *Exec) Format(ctx context.Context, text string) (string, error) {
	timer := logging.StartTimer(logging.CategoryFormatter, "exec "+e.config.Command)
	defer timer.StopWithThreshold(e.config.Timeout / 2)

	execCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.config.Command, e.config.Args...)
	cmd.Dir = e.config.Dir
	if len(e.config.Env) > 0 {
		cmd.Env = append(os.Environ(), e.config.Env...)
	}
	cmd.Stdin = strings.NewReader(text)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: e.config.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: e.config.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s: %s", ErrTimeout, e.config.Timeout, e.config.Command)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		msg := strings.TrimSpace(stderrBuf.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %w: %s", e.config.Command, err, firstLine(msg))
		}
		return "", fmt.Errorf("%s: %w", e.config.Command, err)
	}
	if stdout.truncated {
		return "", fmt.Errorf("%s: output exceeded %d bytes", e.config.Command, e.config.MaxOutputBytes)
	}

	out := strings.TrimSuffix(stdoutBuf.String(), "\n")
	if out == "" && strings.TrimSpace(text) != "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// limitedWriter wraps a writer and discards everything past max bytes.
type limitedWriter struct {
	w         io.Writer
	max       int
	written   int
	truncated bool
	discarded int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.truncated = true
		lw.discarded += len(p)
		return len(p), nil
	}
	if len(p) > remaining {
		lw.truncated = true
		lw.discarded += len(p) - remaining
		n, err := lw.w.Write(p[:remaining])
		lw.written += n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.written += n
	return n, err
}
