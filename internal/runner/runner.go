// Package runner executes external commands (git, formatters, linters, test
// suites) with a timeout and captured output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single command when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Minute

// Result holds the captured outcome of one command.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Output returns stdout and stderr joined, trimmed.
func (r Result) Output() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Runner runs a command in a directory.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (Result, error)
}

// Options configures an Exec runner.
type Options struct {
	Timeout time.Duration
	// Env entries appended to the current environment.
	Env []string
	// DropEnv names variables removed from the inherited environment.
	DropEnv []string
}

// Exec runs commands through os/exec.
type Exec struct {
	opts Options
}

func New(opts Options) *Exec {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Exec{opts: opts}
}

func (e *Exec) Run(ctx context.Context, dir string, name string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(filterEnv(e.opts.DropEnv...), e.opts.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Command:  Join(name, args...),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
			return result, fmt.Errorf("%s: %w", result.Command, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return result, fmt.Errorf("%s: %w: %s", result.Command, err, strings.TrimSpace(result.Stderr))
	}
	return result, nil
}

// Shell runs a command line through "sh -c". Configured check and fix
// commands are stored as single strings and may contain pipes or &&.
func Shell(ctx context.Context, r Runner, dir, line string) (Result, error) {
	return r.Run(ctx, dir, "sh", "-c", line)
}

// Join renders a command for logs and error messages.
func Join(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// filterEnv returns os.Environ() with the named keys removed.
func filterEnv(keys ...string) []string {
	env := os.Environ()
	if len(keys) == 0 {
		return env
	}
	result := make([]string, 0, len(env))
	for _, e := range env {
		skip := false
		for _, key := range keys {
			if strings.HasPrefix(e, key+"=") {
				skip = true
				break
			}
		}
		if !skip {
			result = append(result, e)
		}
	}
	return result
}
