// Package preflight runs the repository's quality gates (format, lint,
// typecheck, tests and custom commands) before anything is committed.
package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lyndonlyu/releasekit/internal/config"
	"github.com/lyndonlyu/releasekit/internal/runner"
)

// Kind groups checks by what they validate.
type Kind string

const (
	KindFormat    Kind = "format"
	KindLint      Kind = "lint"
	KindTypecheck Kind = "typecheck"
	KindTest      Kind = "test"
	KindCustom    Kind = "custom"
)

// Check is one validation step.
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name       string        `json:"name"`
	Kind       Kind          `json:"kind"`
	Passed     bool          `json:"passed"`
	Command    string        `json:"command,omitempty"`
	Fixable    bool          `json:"fixable"`
	FixCommand string        `json:"fix_command,omitempty"`
	Output     string        `json:"output,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Result is the verdict of one validation run. It stops at the first
// failing check.
type Result struct {
	Success     bool          `json:"success"`
	FailedCheck string        `json:"failed_check,omitempty"`
	Fixable     bool          `json:"fixable"`
	Command     string        `json:"command,omitempty"`
	FixCommand  string        `json:"fix_command,omitempty"`
	Error       string        `json:"error,omitempty"`
	Suggestion  string        `json:"suggestion,omitempty"`
	Results     []CheckResult `json:"results"`
	Duration    time.Duration `json:"duration"`
}

// Validator manages and executes a collection of checks in order.
type Validator struct {
	mu     sync.RWMutex
	checks []Check
}

func NewValidator() *Validator {
	return &Validator{}
}

// Add appends a check (thread-safe).
func (v *Validator) Add(c Check) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checks = append(v.checks, c)
}

// Checks returns the names of all registered checks.
func (v *Validator) Checks() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, len(v.checks))
	for i, c := range v.checks {
		names[i] = c.Name()
	}
	return names
}

// Validate runs checks sequentially until one fails.
func (v *Validator) Validate(ctx context.Context) Result {
	v.mu.RLock()
	checks := make([]Check, len(v.checks))
	copy(checks, v.checks)
	v.mu.RUnlock()

	start := time.Now()
	res := Result{Success: true}
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			res.Success = false
			res.FailedCheck = c.Name()
			res.Error = err.Error()
			break
		}
		cr := c.Run(ctx)
		res.Results = append(res.Results, cr)
		if cr.Passed {
			continue
		}
		res.Success = false
		res.FailedCheck = cr.Name
		res.Fixable = cr.Fixable
		res.Command = cr.Command
		res.FixCommand = cr.FixCommand
		res.Error = cr.Output
		res.Suggestion = suggest(cr)
		break
	}
	res.Duration = time.Since(start)
	return res
}

func suggest(cr CheckResult) string {
	if cr.Fixable && cr.FixCommand != "" {
		return fmt.Sprintf("run `%s` to fix automatically", cr.FixCommand)
	}
	switch cr.Kind {
	case KindFormat:
		return "format the sources and commit before releasing"
	case KindLint:
		return "fix the lint findings above"
	case KindTypecheck:
		return "fix the type errors above"
	case KindTest:
		return "fix the failing tests above"
	default:
		return fmt.Sprintf("make `%s` pass", cr.Command)
	}
}

// FromConfig builds a validator with the configured command checks, run in
// dir.
func FromConfig(checks []config.Check, r runner.Runner, dir string) *Validator {
	v := NewValidator()
	for _, c := range checks {
		kind := Kind(c.Kind)
		if kind == "" {
			kind = KindCustom
		}
		v.Add(CommandCheck{
			CheckName:  c.Name,
			Kind:       kind,
			Command:    c.Command,
			Fixable:    c.Fixable,
			FixCommand: c.FixCommand,
			Dir:        dir,
			Runner:     r,
		})
	}
	return v
}

// ---------- Built-in checks ----------

// CommandCheck passes when its shell command exits zero.
type CommandCheck struct {
	CheckName  string
	Kind       Kind
	Command    string
	Fixable    bool
	FixCommand string
	Dir        string
	Runner     runner.Runner
}

func (c CommandCheck) Name() string { return c.CheckName }
func (c CommandCheck) Run(ctx context.Context) CheckResult {
	res, err := runner.Shell(ctx, c.Runner, c.Dir, c.Command)
	cr := CheckResult{
		Name:       c.CheckName,
		Kind:       c.Kind,
		Passed:     err == nil,
		Command:    c.Command,
		Fixable:    c.Fixable,
		FixCommand: c.FixCommand,
		Duration:   res.Duration,
	}
	if err != nil {
		cr.Output = res.Output()
		if cr.Output == "" {
			cr.Output = err.Error()
		}
	}
	return cr
}

// BinaryCheck validates that an executable is available in PATH.
type BinaryCheck struct {
	Binary string
}

func (c BinaryCheck) Name() string { return "binary:" + c.Binary }
func (c BinaryCheck) Run(ctx context.Context) CheckResult {
	path, err := exec.LookPath(c.Binary)
	if err != nil {
		return CheckResult{Name: c.Name(), Kind: KindCustom, Output: fmt.Sprintf("%s not found in PATH", c.Binary)}
	}
	return CheckResult{Name: c.Name(), Kind: KindCustom, Passed: true, Output: "found at " + path}
}

// CustomCheck wraps an arbitrary function as a check.
type CustomCheck struct {
	CheckName string
	Fn        func(ctx context.Context) CheckResult
}

func (c CustomCheck) Name() string                        { return c.CheckName }
func (c CustomCheck) Run(ctx context.Context) CheckResult { return c.Fn(ctx) }

// Tail returns the last n lines of s, for compact failure output.
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
