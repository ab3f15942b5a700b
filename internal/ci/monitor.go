// Package ci watches a GitHub Actions workflow run for a release commit.
package ci

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lyndonlyu/releasekit/internal/github"
	"github.com/lyndonlyu/releasekit/internal/retry"
)

// Actions is the slice of the GitHub API the monitor uses.
type Actions interface {
	ListWorkflowRuns(ctx context.Context, workflow, headSHA string) ([]github.WorkflowRun, error)
	ListJobs(ctx context.Context, runID int64) ([]github.Job, error)
	JobLogs(ctx context.Context, jobID int64) (string, error)
	DispatchWorkflow(ctx context.Context, workflow, ref string) error
}

// FailedJob is a job that did not succeed, with the tail of its log.
type FailedJob struct {
	ID   int64
	Name string
	Log  string
}

type Outcome struct {
	Success    bool
	Run        *github.WorkflowRun
	Attempts   int
	Elapsed    time.Duration
	FailedJobs []FailedJob
	Error      string
}

type Options struct {
	Workflow     string
	PollInterval time.Duration
	Timeout      time.Duration
	// LogLines caps how much of each failed job log is kept.
	LogLines int
	Logger   *log.Logger
}

type Monitor struct {
	api  Actions
	opts Options
}

func NewMonitor(api Actions, opts Options) *Monitor {
	if opts.LogLines == 0 {
		opts.LogLines = 200
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Monitor{api: api, opts: opts}
}

// Trigger starts the workflow on ref.
func (m *Monitor) Trigger(ctx context.Context, ref string) error {
	return m.api.DispatchWorkflow(ctx, m.opts.Workflow, ref)
}

// Wait polls until the newest run for headSHA completes. Runs started before
// since are ignored so a re-triggered workflow is not confused with the
// failed one.
func (m *Monitor) Wait(ctx context.Context, headSHA string, since time.Time) Outcome {
	var run *github.WorkflowRun
	poll := retry.Poll(ctx, retry.PollOptions{
		Interval: m.opts.PollInterval,
		Timeout:  m.opts.Timeout,
	}, func(ctx context.Context, attempt int) (bool, error) {
		runs, err := m.api.ListWorkflowRuns(ctx, m.opts.Workflow, headSHA)
		if err != nil {
			return false, err
		}
		latest := newest(runs, since)
		if latest == nil {
			m.opts.Logger.Debug("waiting for workflow run", "workflow", m.opts.Workflow, "sha", headSHA, "attempt", attempt)
			return false, nil
		}
		run = latest
		m.opts.Logger.Debug("workflow run", "id", latest.ID, "status", latest.Status, "conclusion", latest.Conclusion)
		return latest.Completed(), nil
	})

	out := Outcome{Run: run, Attempts: poll.Attempts, Elapsed: poll.Elapsed}
	if !poll.Done {
		out.Error = fmt.Sprintf("workflow %s for %s did not complete: %v", m.opts.Workflow, short(headSHA), poll.Err)
		if poll.LastErr != nil {
			out.Error += fmt.Sprintf(" (last error: %v)", poll.LastErr)
		}
		return out
	}
	if run.Succeeded() {
		out.Success = true
		return out
	}

	out.Error = fmt.Sprintf("workflow %s run %d concluded %s", m.opts.Workflow, run.ID, run.Conclusion)
	out.FailedJobs = m.failedJobs(ctx, run.ID)
	return out
}

func (m *Monitor) failedJobs(ctx context.Context, runID int64) []FailedJob {
	jobs, err := m.api.ListJobs(ctx, runID)
	if err != nil {
		m.opts.Logger.Warn("list jobs failed", "run", runID, "err", err)
		return nil
	}
	var failed []FailedJob
	for _, j := range jobs {
		if j.Conclusion == github.ConclusionSuccess || j.Conclusion == "skipped" {
			continue
		}
		logs, err := m.api.JobLogs(ctx, j.ID)
		if err != nil {
			logs = fmt.Sprintf("(log unavailable: %v)", err)
		}
		failed = append(failed, FailedJob{ID: j.ID, Name: j.Name, Log: tail(logs, m.opts.LogLines)})
	}
	return failed
}

func newest(runs []github.WorkflowRun, since time.Time) *github.WorkflowRun {
	var best *github.WorkflowRun
	for i := range runs {
		r := &runs[i]
		if !since.IsZero() && r.CreatedAt.Before(since) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) || (r.CreatedAt.Equal(best.CreatedAt) && r.ID > best.ID) {
			best = r
		}
	}
	return best
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
