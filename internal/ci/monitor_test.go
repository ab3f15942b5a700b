package ci

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/releasekit/internal/github"
)

type fakeActions struct {
	mu         sync.Mutex
	responses  [][]github.WorkflowRun
	calls      int
	jobs       []github.Job
	logs       map[int64]string
	dispatched []string
	listErr    error
}

func (f *fakeActions) ListWorkflowRuns(ctx context.Context, workflow, headSHA string) ([]github.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i], nil
}

func (f *fakeActions) ListJobs(ctx context.Context, runID int64) ([]github.Job, error) {
	return f.jobs, nil
}

func (f *fakeActions) JobLogs(ctx context.Context, jobID int64) (string, error) {
	return f.logs[jobID], nil
}

func (f *fakeActions) DispatchWorkflow(ctx context.Context, workflow, ref string) error {
	f.dispatched = append(f.dispatched, workflow+"@"+ref)
	return nil
}

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func opts() Options {
	return Options{Workflow: "publish.yml", PollInterval: time.Millisecond, Timeout: 5 * time.Second}
}

func TestWaitSuccess(t *testing.T) {
	api := &fakeActions{responses: [][]github.WorkflowRun{
		nil,
		{{ID: 1, Status: "in_progress", CreatedAt: t0}},
		{{ID: 1, Status: "completed", Conclusion: "success", CreatedAt: t0}},
	}}
	out := NewMonitor(api, opts()).Wait(context.Background(), "abc1234567", time.Time{})

	assert.True(t, out.Success, out.Error)
	assert.Equal(t, 3, out.Attempts)
	require.NotNil(t, out.Run)
	assert.Equal(t, int64(1), out.Run.ID)
}

func TestWaitFailureCollectsJobLogs(t *testing.T) {
	api := &fakeActions{
		responses: [][]github.WorkflowRun{{{ID: 9, Status: "completed", Conclusion: "failure", CreatedAt: t0}}},
		jobs: []github.Job{
			{ID: 1, Name: "build", Conclusion: "success"},
			{ID: 2, Name: "lint", Conclusion: "failure"},
		},
		logs: map[int64]string{2: "2026-10-15T12:00:01.1234567Z error: src/mod.ts:3 no-unused-vars\n"},
	}
	out := NewMonitor(api, opts()).Wait(context.Background(), "abc", time.Time{})

	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "concluded failure")
	require.Len(t, out.FailedJobs, 1)
	assert.Equal(t, "lint", out.FailedJobs[0].Name)
	assert.Equal(t, "error: src/mod.ts:3 no-unused-vars", out.FailedJobs[0].Log)
}

func TestWaitIgnoresRunsBeforeSince(t *testing.T) {
	api := &fakeActions{responses: [][]github.WorkflowRun{
		{{ID: 1, Status: "completed", Conclusion: "failure", CreatedAt: t0}},
		{
			{ID: 1, Status: "completed", Conclusion: "failure", CreatedAt: t0},
			{ID: 2, Status: "completed", Conclusion: "success", CreatedAt: t0.Add(time.Minute)},
		},
	}}
	out := NewMonitor(api, opts()).Wait(context.Background(), "abc", t0.Add(time.Second))

	assert.True(t, out.Success, out.Error)
	assert.Equal(t, int64(2), out.Run.ID)
}

func TestWaitTimeout(t *testing.T) {
	api := &fakeActions{listErr: errors.New("boom")}
	o := opts()
	o.Timeout = 20 * time.Millisecond
	o.PollInterval = time.Hour
	out := NewMonitor(api, o).Wait(context.Background(), "abc", time.Time{})

	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "timed out")
	assert.Contains(t, out.Error, "boom")
}

func TestTrigger(t *testing.T) {
	api := &fakeActions{}
	require.NoError(t, NewMonitor(api, opts()).Trigger(context.Background(), "main"))
	assert.Equal(t, []string{"publish.yml@main"}, api.dispatched)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "b\nc", tail("a\nb\nc\n", 2))
}
