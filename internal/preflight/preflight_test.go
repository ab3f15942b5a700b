package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/releasekit/internal/config"
	"github.com/lyndonlyu/releasekit/internal/runner"
)

func TestValidateAllPass(t *testing.T) {
	v := FromConfig([]config.Check{
		{Name: "Lint", Kind: "lint", Command: "true"},
		{Name: "Test", Kind: "test", Command: "echo ok"},
	}, runner.New(runner.Options{}), t.TempDir())

	res := v.Validate(context.Background())
	assert.True(t, res.Success)
	assert.Len(t, res.Results, 2)
	assert.Equal(t, []string{"Lint", "Test"}, v.Checks())
}

func TestValidateStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	v := FromConfig([]config.Check{
		{Name: "Format Check", Kind: "format", Command: "echo 'bad.ts not formatted' >&2; exit 1", Fixable: true, FixCommand: "touch fixed"},
		{Name: "Test", Kind: "test", Command: "touch ran-tests"},
	}, runner.New(runner.Options{}), dir)

	res := v.Validate(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, "Format Check", res.FailedCheck)
	assert.True(t, res.Fixable)
	assert.Equal(t, "touch fixed", res.FixCommand)
	assert.Contains(t, res.Error, "bad.ts not formatted")
	assert.Contains(t, res.Suggestion, "touch fixed")
	assert.Len(t, res.Results, 1)

	_, err := os.Stat(filepath.Join(dir, "ran-tests"))
	assert.True(t, os.IsNotExist(err), "checks after a failure must not run")
}

func TestNonFixableSuggestion(t *testing.T) {
	v := FromConfig([]config.Check{{Name: "Types", Kind: "typecheck", Command: "exit 2"}},
		runner.New(runner.Options{}), t.TempDir())

	res := v.Validate(context.Background())
	assert.False(t, res.Success)
	assert.False(t, res.Fixable)
	assert.Equal(t, "fix the type errors above", res.Suggestion)
}

func TestDefaultKindIsCustom(t *testing.T) {
	v := FromConfig([]config.Check{{Name: "x", Command: "exit 1"}}, runner.New(runner.Options{}), t.TempDir())
	res := v.Validate(context.Background())
	require.Len(t, res.Results, 1)
	assert.Equal(t, KindCustom, res.Results[0].Kind)
	assert.Equal(t, "make `exit 1` pass", res.Suggestion)
}

func TestCanceledContext(t *testing.T) {
	v := NewValidator()
	v.Add(CustomCheck{CheckName: "never", Fn: func(ctx context.Context) CheckResult {
		t.Fatal("must not run")
		return CheckResult{}
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := v.Validate(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, "never", res.FailedCheck)
}

func TestBinaryCheck(t *testing.T) {
	assert.True(t, BinaryCheck{Binary: "sh"}.Run(context.Background()).Passed)
	r := BinaryCheck{Binary: "definitely-not-a-binary-xyz"}.Run(context.Background())
	assert.False(t, r.Passed)
	assert.Contains(t, r.Output, "not found in PATH")
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", Tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", Tail("a", 5))
}
