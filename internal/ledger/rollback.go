package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lyndonlyu/releasekit/internal/github"
)

// GitSystem is the git surface rollback and verification need.
type GitSystem interface {
	Head(ctx context.Context) (string, error)
	ResetSoft(ctx context.Context, commit string) error
	TagExists(ctx context.Context, name string) (bool, error)
	DeleteTag(ctx context.Context, name string) error
	RemoteTagExists(ctx context.Context, remote, tag string) (bool, error)
	DeleteRemoteTag(ctx context.Context, remote, tag string) error
	RemoteBranchHead(ctx context.Context, remote, branch string) (string, bool, error)
	ForcePushWithLease(ctx context.Context, remote, branch, expected, target string) error
	DeleteRemoteBranch(ctx context.Context, remote, branch, expected string) error
}

// ReleaseSystem deletes and looks up hosted releases. Lookups and deletes of
// an absent release return github.ErrNotFound.
type ReleaseSystem interface {
	DeleteRelease(ctx context.Context, id int64) error
	DeleteReleaseByTag(ctx context.Context, tag string) error
	GetRelease(ctx context.Context, id int64) (*github.Release, error)
	GetReleaseByTag(ctx context.Context, tag string) (*github.Release, error)
}

// Quality grades a rollback.
type Quality string

const (
	QualityFull    Quality = "FULL"    // every completed operation undone and verified
	QualityPartial Quality = "PARTIAL" // some undone, some need manual intervention
	QualityFailed  Quality = "FAILED"  // nothing could be undone
	QualityNone    Quality = "NONE"    // nothing to undo
)

// Stage says where a rollback step failed.
type Stage string

const (
	StageExecute Stage = "execute"
	StageVerify  Stage = "verify"
)

var ErrIrreversible = errors.New("irreversible operation")

type Failure struct {
	Operation Operation
	Stage     Stage
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %q (%s): %v", f.Operation.Type(), f.Operation.Description, f.Stage, f.Err)
}

type Report struct {
	Quality    Quality
	RolledBack []Operation
	Failures   []Failure
	Duration   time.Duration
}

// OK is true when nothing needs manual intervention.
func (r Report) OK() bool { return len(r.Failures) == 0 }

// Err summarizes the failures, or nil.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	msgs := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Errorf("manual intervention required: %s", strings.Join(msgs, "; "))
}

// PerformRollback undoes completed operations newest first. A failing step
// is recorded and the walk continues with the next operation.
func (l *Ledger) PerformRollback(ctx context.Context) Report {
	start := time.Now()
	completed := l.Completed()
	report := Report{}

	for i := len(completed) - 1; i >= 0; i-- {
		op := completed[i]
		l.logger.Info("rolling back", "type", op.Type(), "op", op.Description)

		if err := l.undo(ctx, op); err != nil {
			l.logger.Error("rollback failed", "type", op.Type(), "op", op.Description, "err", err)
			report.Failures = append(report.Failures, Failure{Operation: op, Stage: StageExecute, Err: err})
			continue
		}
		if err := l.verify(ctx, op); err != nil {
			l.logger.Error("rollback verification failed", "type", op.Type(), "op", op.Description, "err", err)
			report.Failures = append(report.Failures, Failure{Operation: op, Stage: StageVerify, Err: err})
			continue
		}
		if err := l.transition(op.ID, StateRolledBack, nil, "", StateCompleted); err != nil {
			report.Failures = append(report.Failures, Failure{Operation: op, Stage: StageVerify, Err: err})
			continue
		}
		op.State = StateRolledBack
		report.RolledBack = append(report.RolledBack, op)
	}

	switch {
	case len(completed) == 0:
		report.Quality = QualityNone
	case len(report.Failures) == 0:
		report.Quality = QualityFull
	case len(report.RolledBack) == 0:
		report.Quality = QualityFailed
	default:
		report.Quality = QualityPartial
	}
	report.Duration = time.Since(start)
	return report
}

func (l *Ledger) undo(ctx context.Context, op Operation) error {
	if op.rollback != nil {
		return op.rollback(ctx, op)
	}
	switch d := op.Detail.(type) {
	case FileBackup, FileUpdate:
		// Files come back through the backup manager.
		return nil
	case GitTag:
		return l.undoTag(ctx, d)
	case GitPush:
		return l.undoPush(ctx, d)
	case GitCommit:
		return l.undoCommit(ctx, d)
	case GithubRelease:
		return l.undoRelease(ctx, d)
	case JsrPublish:
		return fmt.Errorf("%w: %s@%s is published to the registry and cannot be withdrawn", ErrIrreversible, d.Package, d.Version)
	default:
		return fmt.Errorf("ledger: no rollback for %T", op.Detail)
	}
}

func (l *Ledger) needGit() error {
	if l.git == nil {
		return errors.New("ledger: no git system configured")
	}
	return nil
}

func (l *Ledger) undoTag(ctx context.Context, d GitTag) error {
	if err := l.needGit(); err != nil {
		return err
	}
	// The local tag is deleted even when the remote cannot be reached.
	var remoteErr error
	if d.Remote != "" {
		present, err := l.git.RemoteTagExists(ctx, d.Remote, d.Name)
		switch {
		case err != nil:
			remoteErr = err
		case present:
			remoteErr = l.git.DeleteRemoteTag(ctx, d.Remote, d.Name)
		}
	}
	return errors.Join(remoteErr, l.git.DeleteTag(ctx, d.Name))
}

func (l *Ledger) undoPush(ctx context.Context, d GitPush) error {
	if err := l.needGit(); err != nil {
		return err
	}
	for _, tag := range d.Tags {
		present, err := l.git.RemoteTagExists(ctx, d.Remote, tag)
		if err != nil {
			return err
		}
		if present {
			if err := l.git.DeleteRemoteTag(ctx, d.Remote, tag); err != nil {
				return err
			}
		}
	}

	head, exists, err := l.git.RemoteBranchHead(ctx, d.Remote, d.Branch)
	if err != nil {
		return err
	}
	if d.PreviousRemoteCommit == "" {
		if !exists {
			return nil
		}
		return l.git.DeleteRemoteBranch(ctx, d.Remote, d.Branch, d.PushedCommit)
	}
	if exists && head == d.PreviousRemoteCommit {
		return nil
	}
	return l.git.ForcePushWithLease(ctx, d.Remote, d.Branch, d.PushedCommit, d.PreviousRemoteCommit)
}

func (l *Ledger) undoCommit(ctx context.Context, d GitCommit) error {
	if err := l.needGit(); err != nil {
		return err
	}
	if d.PreviousCommit == "" {
		return errors.New("ledger: commit has no recorded parent")
	}
	head, err := l.git.Head(ctx)
	if err != nil {
		return err
	}
	if head == d.PreviousCommit {
		return nil
	}
	return l.git.ResetSoft(ctx, d.PreviousCommit)
}

func (l *Ledger) undoRelease(ctx context.Context, d GithubRelease) error {
	if l.releases == nil {
		return errors.New("ledger: no release system configured")
	}
	err := errors.New("no release id")
	if d.ID != 0 {
		err = l.releases.DeleteRelease(ctx, d.ID)
		if err == nil || errors.Is(err, github.ErrNotFound) && d.TagName == "" {
			return nil
		}
	}
	if d.TagName == "" {
		return err
	}
	err = l.releases.DeleteReleaseByTag(ctx, d.TagName)
	if err == nil || errors.Is(err, github.ErrNotFound) {
		return nil
	}
	return err
}

// verify re-queries the system the undo touched.
func (l *Ledger) verify(ctx context.Context, op Operation) error {
	switch d := op.Detail.(type) {
	case GitTag:
		if err := l.needGit(); err != nil {
			return err
		}
		if d.Remote != "" {
			present, err := l.git.RemoteTagExists(ctx, d.Remote, d.Name)
			if err != nil {
				return err
			}
			if present {
				return fmt.Errorf("tag %s still present on %s", d.Name, d.Remote)
			}
		}
		present, err := l.git.TagExists(ctx, d.Name)
		if err != nil {
			return err
		}
		if present {
			return fmt.Errorf("tag %s still present locally", d.Name)
		}
	case GitPush:
		if err := l.needGit(); err != nil {
			return err
		}
		for _, tag := range d.Tags {
			present, err := l.git.RemoteTagExists(ctx, d.Remote, tag)
			if err != nil {
				return err
			}
			if present {
				return fmt.Errorf("tag %s still present on %s", tag, d.Remote)
			}
		}
		head, exists, err := l.git.RemoteBranchHead(ctx, d.Remote, d.Branch)
		if err != nil {
			return err
		}
		if d.PreviousRemoteCommit == "" {
			if exists {
				return fmt.Errorf("branch %s still exists on %s", d.Branch, d.Remote)
			}
			return nil
		}
		if !exists || head != d.PreviousRemoteCommit {
			return fmt.Errorf("%s/%s is at %q, want %s", d.Remote, d.Branch, head, d.PreviousRemoteCommit)
		}
	case GitCommit:
		if err := l.needGit(); err != nil {
			return err
		}
		head, err := l.git.Head(ctx)
		if err != nil {
			return err
		}
		if head != d.PreviousCommit {
			return fmt.Errorf("HEAD is %s, want %s", head, d.PreviousCommit)
		}
	case GithubRelease:
		if l.releases == nil {
			return errors.New("ledger: no release system configured")
		}
		if d.ID != 0 {
			if _, err := l.releases.GetRelease(ctx, d.ID); !errors.Is(err, github.ErrNotFound) {
				if err != nil {
					return err
				}
				return fmt.Errorf("release %d still exists", d.ID)
			}
		}
		if d.TagName != "" {
			if _, err := l.releases.GetReleaseByTag(ctx, d.TagName); !errors.Is(err, github.ErrNotFound) {
				if err != nil {
					return err
				}
				return fmt.Errorf("release for %s still exists", d.TagName)
			}
		}
	}
	return nil
}
