package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Run statuses and conclusions as reported by the Actions API.
const (
	StatusCompleted = "completed"

	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionTimedOut  = "timed_out"
)

type WorkflowRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	HeadBranch string    `json:"head_branch"`
	HeadSHA    string    `json:"head_sha"`
	Event      string    `json:"event"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	HTMLURL    string    `json:"html_url"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r WorkflowRun) Completed() bool { return r.Status == StatusCompleted }
func (r WorkflowRun) Succeeded() bool { return r.Completed() && r.Conclusion == ConclusionSuccess }

type Job struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// ListWorkflowRuns returns the newest runs of workflow (file name or ID) for
// a commit, newest first.
func (c *Client) ListWorkflowRuns(ctx context.Context, workflow, headSHA string) ([]WorkflowRun, error) {
	q := url.Values{}
	if headSHA != "" {
		q.Set("head_sha", headSHA)
	}
	q.Set("per_page", "20")
	var out struct {
		WorkflowRuns []WorkflowRun `json:"workflow_runs"`
	}
	path := c.repoPath("/actions/workflows/%s/runs", url.PathEscape(workflow)) + "?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.WorkflowRuns, nil
}

func (c *Client) GetWorkflowRun(ctx context.Context, id int64) (*WorkflowRun, error) {
	var r WorkflowRun
	if err := c.do(ctx, http.MethodGet, c.repoPath("/actions/runs/%d", id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListJobs(ctx context.Context, runID int64) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/actions/runs/%d/jobs", runID), nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// JobLogs downloads the plain-text log of a job.
func (c *Client) JobLogs(ctx context.Context, jobID int64) (string, error) {
	data, err := c.getRaw(ctx, c.repoPath("/actions/jobs/%d/logs", jobID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DispatchWorkflow triggers a workflow_dispatch event on ref.
func (c *Client) DispatchWorkflow(ctx context.Context, workflow, ref string) error {
	body := map[string]string{"ref": ref}
	if err := c.do(ctx, http.MethodPost, c.repoPath("/actions/workflows/%s/dispatches", url.PathEscape(workflow)), body, nil); err != nil {
		return fmt.Errorf("github: dispatch %s: %w", workflow, err)
	}
	return nil
}
