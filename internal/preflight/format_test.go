package preflight

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatResultPass(t *testing.T) {
	out := FormatResult(Result{
		Success:  true,
		Results:  []CheckResult{{Name: "Lint", Passed: true, Duration: 5 * time.Millisecond}},
		Duration: 5 * time.Millisecond,
	})
	assert.Contains(t, out, "[PASS] Lint")
	assert.Contains(t, out, "ALL PASSED")
}

func TestFormatResultFail(t *testing.T) {
	out := FormatResult(Result{
		FailedCheck: "Format Check",
		Command:     "deno fmt --check",
		Error:       "bad.ts",
		Suggestion:  "run `deno fmt` to fix automatically",
		Results:     []CheckResult{{Name: "Format Check"}},
	})
	assert.Contains(t, out, "[FAIL] Format Check")
	assert.Contains(t, out, "FAILED at Format Check")
	assert.Contains(t, out, "Command: deno fmt --check")
	assert.Contains(t, out, "Suggestion: run `deno fmt`")
}

func TestFormatResultJSON(t *testing.T) {
	out, err := FormatResultJSON(Result{FailedCheck: "x", Fixable: true})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "x", decoded["failed_check"])
	assert.Equal(t, true, decoded["fixable"])
}
