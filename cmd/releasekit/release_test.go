package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/releasekit/internal/ledger"
	"github.com/lyndonlyu/releasekit/internal/pipeline"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", &exitError{code: 2, err: errors.New("x")})))
}

func TestReportSuccess(t *testing.T) {
	var buf bytes.Buffer
	err := report(&buf, pipeline.Result{
		Success:          true,
		PreviousVersion:  "1.0.0",
		Tag:              "v1.0.1",
		Bump:             "patch",
		CommitCount:      1,
		GithubReleaseURL: "https://github.com/acme/widget/releases/tag/v1.0.1",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "v1.0.1")
	assert.Contains(t, buf.String(), "releases/tag/v1.0.1")
}

func TestReportRolledBack(t *testing.T) {
	var buf bytes.Buffer
	err := report(&buf, pipeline.Result{
		RunID:     "20261015T120000Z-abcd1234",
		Error:     "git (github): create release: 502",
		ErrorKind: pipeline.KindGit,
		Rollback:  &ledger.Report{Quality: ledger.QualityFull},
	})
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, buf.String(), "FULL")
	assert.Contains(t, buf.String(), "create release: 502")
}

func TestReportRollbackIncomplete(t *testing.T) {
	var buf bytes.Buffer
	err := report(&buf, pipeline.Result{
		Error:         "publish_verification (jsr): not found",
		Rollback:      &ledger.Report{Quality: ledger.QualityPartial},
		RollbackError: "rollback_verification (error): manual intervention required",
	})
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, buf.String(), "PARTIAL")
	assert.Contains(t, buf.String(), "manual intervention")
}

func TestReportPreflightFailure(t *testing.T) {
	var buf bytes.Buffer
	err := report(&buf, pipeline.Result{Error: "preflight (changelog): check failed", FailedCheck: "Format Check"})
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, buf.String(), "failed check: Format Check")
	assert.NotContains(t, buf.String(), "rollback")
}
