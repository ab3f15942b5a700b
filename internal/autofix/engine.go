// Package autofix repairs preflight and CI failures: first with the
// configured fix commands, then, when enabled, with a patch proposed by a
// language model.
package autofix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/lyndonlyu/releasekit/internal/ci"
	"github.com/lyndonlyu/releasekit/internal/config"
	"github.com/lyndonlyu/releasekit/internal/preflight"
	"github.com/lyndonlyu/releasekit/internal/redact"
	"github.com/lyndonlyu/releasekit/internal/runner"
)

// Method names how a fix was produced.
type Method string

const (
	MethodNone  Method = "none"
	MethodBasic Method = "basic"
	MethodAI    Method = "ai"
)

var (
	ErrNothingToTry = errors.New("autofix: no fix available")
	ErrUnsafePath   = errors.New("autofix: path outside repository")
)

type Result struct {
	Applied     bool
	Method      Method
	Commands    []string
	Files       []string
	Explanation string
	Err         error
}

type Options struct {
	Dir    string
	Runner runner.Runner
	// Basic enables running configured fix commands.
	Basic bool
	// FixCommands maps a failure kind to the command that repairs it.
	FixCommands map[ErrorKind]string
	// Assistant is nil when AI remediation is disabled.
	Assistant   Assistant
	MaxAttempts int
	// MaxFileBytes caps each file sent to the assistant.
	MaxFileBytes int
	Redactor     *redact.Redactor
	Logger       *log.Logger
}

type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	if opts.Runner == nil {
		opts.Runner = runner.New(runner.Options{})
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MaxFileBytes == 0 {
		opts.MaxFileBytes = 64 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Engine{opts: opts}
}

// MaxAttempts bounds the CI fix loop.
func (e *Engine) MaxAttempts() int { return e.opts.MaxAttempts }

// FixCommands collects the fix commands of fixable checks by kind.
func FixCommands(checks []config.Check) map[ErrorKind]string {
	out := make(map[ErrorKind]string)
	for _, c := range checks {
		if c.Fixable && c.FixCommand != "" && c.Kind != "" {
			if _, ok := out[ErrorKind(c.Kind)]; !ok {
				out[ErrorKind(c.Kind)] = c.FixCommand
			}
		}
	}
	return out
}

// FixPreflight makes one remediation attempt for a failed validation.
func (e *Engine) FixPreflight(ctx context.Context, res preflight.Result) Result {
	if e.opts.Basic && res.Fixable && res.FixCommand != "" {
		if err := e.run(ctx, res.FixCommand); err != nil {
			e.opts.Logger.Warn("fix command failed", "check", res.FailedCheck, "err", err)
			if e.opts.Assistant == nil {
				return Result{Method: MethodBasic, Commands: []string{res.FixCommand}, Err: err}
			}
		} else {
			return Result{Applied: true, Method: MethodBasic, Commands: []string{res.FixCommand}}
		}
	}
	if e.opts.Assistant == nil {
		return Result{Method: MethodNone, Err: ErrNothingToTry}
	}
	problem := fmt.Sprintf("The check %q failed running `%s`.", res.FailedCheck, res.Command)
	return e.askAssistant(ctx, problem, res.Error, Files(ParseCIErrors(res.Error)))
}

// FixCI makes one remediation attempt for a failed workflow run.
func (e *Engine) FixCI(ctx context.Context, out ci.Outcome) Result {
	var logs strings.Builder
	for _, j := range out.FailedJobs {
		fmt.Fprintf(&logs, "## job %s\n%s\n", j.Name, j.Log)
	}
	errs := ParseCIErrors(logs.String())
	kinds := Kinds(errs)
	e.opts.Logger.Info("ci failure parsed", "errors", len(errs), "kinds", kinds)

	var cmds []string
	var basicErr error
	uncovered := len(kinds) == 0
	if e.opts.Basic {
		for _, k := range kinds {
			cmd, ok := e.opts.FixCommands[k]
			if !ok {
				uncovered = true
				continue
			}
			cmds = append(cmds, cmd)
			if err := e.run(ctx, cmd); err != nil && basicErr == nil {
				basicErr = err
			}
		}
	} else {
		uncovered = true
	}
	basicOK := len(cmds) > 0 && basicErr == nil

	if basicOK && !uncovered {
		return Result{Applied: true, Method: MethodBasic, Commands: cmds}
	}
	if e.opts.Assistant == nil {
		switch {
		case basicOK:
			return Result{Applied: true, Method: MethodBasic, Commands: cmds}
		case basicErr != nil:
			return Result{Method: MethodBasic, Commands: cmds, Err: basicErr}
		default:
			return Result{Method: MethodNone, Err: ErrNothingToTry}
		}
	}
	ai := e.askAssistant(ctx, out.Error, logs.String(), Files(errs))
	ai.Commands = cmds
	return ai
}

func (e *Engine) run(ctx context.Context, command string) error {
	res, err := runner.Shell(ctx, e.opts.Runner, e.opts.Dir, command)
	if err != nil {
		return fmt.Errorf("autofix: %s: %w", command, errors.New(preflight.Tail(res.Output(), 20)))
	}
	return nil
}

func (e *Engine) askAssistant(ctx context.Context, problem, output string, files []string) Result {
	req := Request{
		Problem: e.opts.Redactor.Redact(problem),
		Output:  e.opts.Redactor.Redact(preflight.Tail(output, 200)),
		Files:   make(map[string]string),
	}
	for _, f := range files {
		abs, err := e.resolve(f)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil || len(data) > e.opts.MaxFileBytes {
			continue
		}
		req.Files[f] = e.opts.Redactor.Redact(string(data))
	}

	patch, err := e.opts.Assistant.Suggest(ctx, req)
	if err != nil {
		return Result{Method: MethodAI, Err: err}
	}
	changed, err := e.apply(patch)
	if err != nil {
		return Result{Method: MethodAI, Files: changed, Err: err}
	}
	e.opts.Logger.Info("ai fix applied", "files", changed, "explanation", patch.Explanation)
	return Result{Applied: true, Method: MethodAI, Files: changed, Explanation: patch.Explanation}
}

// apply validates every path before writing any file.
func (e *Engine) apply(p Patch) ([]string, error) {
	targets := make([]string, len(p.Files))
	for i, f := range p.Files {
		abs, err := e.resolve(f.Path)
		if err != nil {
			return nil, err
		}
		targets[i] = abs
	}
	var changed []string
	for i, f := range p.Files {
		mode := os.FileMode(0o644)
		if info, err := os.Stat(targets[i]); err == nil {
			mode = info.Mode().Perm()
		}
		if err := os.MkdirAll(filepath.Dir(targets[i]), 0o755); err != nil {
			return changed, err
		}
		if err := os.WriteFile(targets[i], []byte(f.Content), mode); err != nil {
			return changed, fmt.Errorf("autofix: write %s: %w", f.Path, err)
		}
		changed = append(changed, f.Path)
	}
	return changed, nil
}

func (e *Engine) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || strings.HasPrefix(clean, ".git"+string(filepath.Separator)) || clean == ".git" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return filepath.Join(e.opts.Dir, clean), nil
}
