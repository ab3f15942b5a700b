// Package pipeline runs a release end to end: it computes the next version,
// rewrites the version-bearing files, commits, tags and pushes, creates the
// hosted release and confirms publication. Every side effect is tracked in a
// ledger so that a failure at any point after the first write is undone in
// reverse order and the touched files are restored from a snapshot.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lyndonlyu/releasekit/internal/audit"
	"github.com/lyndonlyu/releasekit/internal/backup"
	"github.com/lyndonlyu/releasekit/internal/config"
	"github.com/lyndonlyu/releasekit/internal/history"
	"github.com/lyndonlyu/releasekit/internal/ledger"
	"github.com/lyndonlyu/releasekit/internal/logging"
	"github.com/lyndonlyu/releasekit/internal/runner"
	"github.com/lyndonlyu/releasekit/internal/telemetry"
	"github.com/lyndonlyu/releasekit/internal/version"
)

// Pipeline releases one repository. It is not safe for concurrent releases
// against the same repository.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
	log  *log.Logger
}

func New(cfg *config.Config, deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Runner == nil {
		deps.Runner = runner.New(runner.Options{})
	}
	return &Pipeline{cfg: cfg, deps: deps, log: logging.OrDiscard(deps.Logger)}
}

// NewRunID returns a sortable run identifier.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.New().String()[:8]
}

// Release runs the pipeline. An explicit bump overrides the one derived from
// commit history.
func (p *Pipeline) Release(ctx context.Context, bump version.Bump) Result {
	start := p.deps.Now()
	r := &run{
		p:   p,
		id:  NewRunID(start),
		log: p.log,
		res: Result{DryRun: p.cfg.DryRun, Bump: bump},
	}
	r.res.RunID = r.id
	r.log = p.log.With("run", r.id)

	r.begin()
	if err := r.execute(ctx, bump); err != nil {
		r.fail(ctx, err)
	}
	r.res.Duration = p.deps.Now().Sub(start)
	r.end()
	return r.res
}

// run is the mutable state of one release.
type run struct {
	p   *Pipeline
	id  string
	log *log.Logger
	res Result

	ledger   *ledger.Ledger
	journal  *ledger.Journal
	backups  *backup.Manager
	backupID string
	// mutated is set once the snapshot exists; any later failure rolls back.
	mutated bool

	current string
	commits []version.Commit
	plan    []*change
	branch  string
	head    string
	pushed  time.Time
}

type step struct {
	state State
	fn    func(context.Context) *Error
}

func (r *run) execute(ctx context.Context, bump version.Bump) *Error {
	plan := []step{
		{StateChecks, r.preconditions},
		{StateVersion, func(ctx context.Context) *Error { return r.resolveVersion(ctx, bump) }},
		{StateChangelog, r.prepare},
	}
	if err := r.runSteps(ctx, plan); err != nil {
		return err
	}
	if r.p.cfg.DryRun {
		r.res.Success = true
		r.log.Info("dry run complete", "version", r.res.Version, "files", r.res.UpdatedFiles)
		return nil
	}
	if err := r.confirm(ctx); err != nil {
		return err
	}

	release := []step{
		{StateChangelog, r.apply},
		{StateGit, r.gitOperations},
	}
	if r.p.cfg.GitHub.Enabled {
		release = append(release, step{StateGithub, r.githubRelease})
	}
	if r.p.cfg.Publish.Enabled {
		if r.p.cfg.Publish.WaitForCI {
			release = append(release, step{StateCI, r.awaitCI})
		}
		release = append(release, step{StateJsr, r.verifyPublish})
	}
	if err := r.runSteps(ctx, release); err != nil {
		return err
	}
	r.complete()
	return nil
}

func (r *run) runSteps(ctx context.Context, steps []step) *Error {
	for _, s := range steps {
		if err := r.stage(ctx, s.state, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// stage runs fn inside a trace span and records its duration.
func (r *run) stage(ctx context.Context, state State, fn func(context.Context) *Error) *Error {
	r.enter(state, "")
	ctx, span := telemetry.StartStage(ctx, string(state), attribute.String("run_id", r.id))
	began := time.Now()
	err := fn(ctx)
	r.p.deps.Metrics.ObserveStage(string(state), time.Since(began))
	var spanErr error
	if err != nil {
		spanErr = err
	}
	telemetry.EndSpan(span, spanErr)
	return err
}

func (r *run) enter(state State, detail string) {
	r.log.Debug("state", "state", state, "detail", detail)
	if r.p.deps.Observer != nil {
		r.p.deps.Observer.OnState(state, detail)
	}
}

func (r *run) complete() {
	if err := r.backups.Cleanup(r.backupID); err != nil {
		r.log.Warn("backup cleanup failed", "backup", r.backupID, "err", err)
	}
	r.res.Success = true
	r.enter(StateComplete, r.res.Tag)
	r.log.Info("release complete", "tag", r.res.Tag, "release", r.res.GithubReleaseURL)
}

// fail records err and, when the repository was already touched, rolls
// back every tracked operation and restores the snapshot.
func (r *run) fail(ctx context.Context, err *Error) {
	r.res.Success = false
	r.res.Error = err.Error()
	r.res.ErrorKind = err.Kind
	r.enter(StateError, err.Error())
	r.log.Error("release failed", "kind", err.Kind, "state", err.State, "err", err.Err)

	if !r.mutated {
		return
	}

	// A cancelled parent must not stop the compensation of what already ran.
	ctx = context.WithoutCancel(ctx)
	report := r.ledger.PerformRollback(ctx)
	r.res.Rollback = &report
	r.p.deps.Metrics.Rollback(string(report.Quality))

	restore := r.backups.Restore(r.backupID)
	if !restore.Success {
		r.res.RestoreFailed = true
		r.log.Error("backup restore failed", "backup", r.backupID, "err", restore.Err())
		r.audit(audit.Entry{
			Event:    audit.EventBackupRestoreFailed,
			Severity: audit.SeverityCritical,
			Message:  "files could not be restored from backup " + r.backupID,
			Error:    restore.Err().Error(),
		})
	}

	if report.OK() {
		if err := r.p.deps.Repo.Unstage(ctx); err != nil {
			r.log.Warn("could not reset index", "err", err)
		}
		r.audit(audit.Entry{
			Event:   audit.EventRollbackCompleted,
			Message: fmt.Sprintf("rolled back %d operations", len(report.RolledBack)),
			Fields:  map[string]string{"quality": string(report.Quality)},
		})
	} else {
		rbErr := newError(KindRollbackVerification, StateError, report.Err())
		r.res.RollbackError = rbErr.Error()
		r.log.Error("rollback incomplete", "quality", report.Quality, "err", report.Err())
		r.audit(audit.Entry{
			Event:    audit.EventRollbackFailed,
			Severity: audit.SeverityCritical,
			Message:  "rollback needs manual intervention",
			Error:    rbErr.Error(),
			Fields:   map[string]string{"quality": string(report.Quality)},
		})
	}

	if (report.Quality == ledger.QualityFull || report.Quality == ledger.QualityNone) && restore.Success {
		if err := r.backups.Cleanup(r.backupID); err != nil {
			r.log.Warn("backup cleanup failed", "backup", r.backupID, "err", err)
		}
	} else {
		r.log.Warn("backup kept for manual recovery", "backup", r.backupID)
	}
}

// begin opens the run in history and the journal.
func (r *run) begin() {
	r.enter(StateInit, r.id)
	if r.p.cfg.StateDir != "" && !r.p.cfg.DryRun {
		j, err := ledger.OpenJournal(r.p.cfg.JournalDir(), r.id)
		if err != nil {
			r.log.Warn("journal disabled", "err", err)
		} else {
			r.journal = j
		}
	}

	opts := []ledger.Option{ledger.WithLogger(r.log)}
	if r.p.deps.Repo != nil {
		opts = append(opts, ledger.WithGit(r.p.deps.Repo))
	}
	if r.p.deps.Releases != nil {
		opts = append(opts, ledger.WithReleases(r.p.deps.Releases))
	}
	if r.journal != nil {
		opts = append(opts, ledger.WithJournal(r.journal))
	}
	r.ledger = ledger.New(opts...)

	if h := r.p.deps.History; h != nil {
		run := history.Run{ID: r.id, StartedAt: r.p.deps.Now().UTC().Format(time.RFC3339)}
		if r.p.deps.Repo != nil {
			run.Repo = r.p.deps.Repo.Dir()
		}
		if err := h.StartRun(run); err != nil {
			r.log.Warn("history disabled", "err", err)
		}
	}
	r.audit(audit.Entry{Event: audit.EventReleaseStarted, Message: "release started", Fields: map[string]string{"dry_run": fmt.Sprint(r.p.cfg.DryRun)}})
}

// end closes the run in history, the journal and the audit trail.
func (r *run) end() {
	outcome, status := r.outcome()
	r.p.deps.Metrics.Release(outcome)

	if r.res.Success {
		r.audit(audit.Entry{
			Event:    audit.EventReleaseCompleted,
			Message:  fmt.Sprintf("released %s", r.res.Tag),
			Duration: r.res.Duration,
			Fields:   map[string]string{"dry_run": fmt.Sprint(r.res.DryRun)},
		})
	} else {
		r.audit(audit.Entry{
			Event:    audit.EventReleaseFailed,
			Severity: audit.SeverityWarning,
			Message:  "release failed",
			Error:    r.res.Error,
			Duration: r.res.Duration,
			Fields:   map[string]string{"kind": string(r.res.ErrorKind), "failed_check": r.res.FailedCheck},
		})
	}

	if r.journal != nil {
		journalOutcome := ledger.OutcomeFailed
		switch {
		case r.res.Success:
			journalOutcome = ledger.OutcomeSucceeded
		case r.res.Rollback != nil && r.res.Rollback.OK() && !r.res.RestoreFailed:
			journalOutcome = ledger.OutcomeRolledBack
		}
		if err := r.journal.Finish(journalOutcome); err != nil {
			r.log.Warn("journal finish failed", "err", err)
		}
	}

	if h := r.p.deps.History; h != nil {
		run := history.Run{
			ID:              r.id,
			Status:          status,
			Version:         r.res.Version,
			PreviousVersion: r.res.PreviousVersion,
			CommitCount:     r.res.CommitCount,
			ReleaseURL:      r.res.GithubReleaseURL,
			Error:           r.res.Error,
		}
		if r.res.Rollback != nil {
			run.RollbackQuality = string(r.res.Rollback.Quality)
		}
		var ops []history.Operation
		for _, op := range r.ledger.Operations() {
			ops = append(ops, history.Operation{
				OpID:        op.ID,
				Type:        string(op.Type()),
				State:       string(op.State),
				Description: op.Description,
				Error:       op.Err,
			})
		}
		if err := h.FinishRun(run, ops); err != nil {
			r.log.Warn("history update failed", "err", err)
		}
	}
}

func (r *run) outcome() (metric, status string) {
	switch {
	case r.res.Success && r.res.DryRun:
		return "dry_run", history.StatusDryRun
	case r.res.Success:
		return "succeeded", history.StatusSucceeded
	case r.res.ErrorKind == KindCancelled:
		return "cancelled", history.StatusFailed
	case r.res.Rollback != nil && r.res.Rollback.OK() && !r.res.RestoreFailed:
		return "rolled_back", history.StatusRolledBack
	default:
		return "failed", history.StatusFailed
	}
}

func (r *run) audit(e audit.Entry) {
	sink := r.p.deps.Audit
	if sink == nil {
		return
	}
	e.RunID = r.id
	if e.Version == "" {
		e.Version = r.res.Version
	}
	if err := sink.Log(e); err != nil {
		r.log.Warn("audit write failed", "event", e.Event, "err", err)
	}
}
