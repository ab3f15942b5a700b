package pipeline

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lyndonlyu/releasekit/internal/audit"
	"github.com/lyndonlyu/releasekit/internal/autofix"
	"github.com/lyndonlyu/releasekit/internal/ci"
	"github.com/lyndonlyu/releasekit/internal/github"
	"github.com/lyndonlyu/releasekit/internal/gitops"
	"github.com/lyndonlyu/releasekit/internal/history"
	"github.com/lyndonlyu/releasekit/internal/ledger"
	"github.com/lyndonlyu/releasekit/internal/preflight"
	"github.com/lyndonlyu/releasekit/internal/prompt"
	"github.com/lyndonlyu/releasekit/internal/publish"
	"github.com/lyndonlyu/releasekit/internal/runner"
	"github.com/lyndonlyu/releasekit/internal/telemetry"
)

// Repo is the git surface a release needs. *gitops.Repo implements it.
type Repo interface {
	ledger.GitSystem

	Dir() string
	CurrentBranch(ctx context.Context) (string, error)
	Dirty(ctx context.Context) ([]string, error)
	Identity(ctx context.Context) (gitops.Identity, error)
	CommitsSince(ctx context.Context, since string) ([]gitops.Commit, error)
	AddAll(ctx context.Context) error
	HasStagedChanges(ctx context.Context) (bool, error)
	Unstage(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) (string, error)
	CreateTag(ctx context.Context, name, message string) error
	Push(ctx context.Context, remote, branch string) error
	PushTag(ctx context.Context, remote, tag string) error
}

// Releases creates and removes hosted releases. *github.Client implements it.
type Releases interface {
	ledger.ReleaseSystem
	CreateRelease(ctx context.Context, req github.CreateReleaseRequest) (*github.Release, error)
}

type Publisher interface {
	Verify(ctx context.Context, pkg, version string) publish.Result
}

type CIWatcher interface {
	Trigger(ctx context.Context, ref string) error
	Wait(ctx context.Context, headSHA string, since time.Time) ci.Outcome
}

type Fixer interface {
	FixPreflight(ctx context.Context, res preflight.Result) autofix.Result
	FixCI(ctx context.Context, out ci.Outcome) autofix.Result
	MaxAttempts() int
}

type Validator interface {
	Validate(ctx context.Context) preflight.Result
}

type HistoryStore interface {
	StartRun(r history.Run) error
	FinishRun(r history.Run, ops []history.Operation) error
}

// Deps are the collaborators of a pipeline. Only Repo is required for a
// release to proceed; the rest are optional and checked against the config.
type Deps struct {
	Repo      Repo
	Releases  Releases
	Publisher Publisher
	CI        CIWatcher
	Fixer     Fixer
	Preflight Validator
	Runner    runner.Runner
	Confirm   prompt.Confirmer
	Audit     audit.Sink
	History   HistoryStore
	Metrics   *telemetry.Metrics
	Logger    *log.Logger
	Observer  Observer
	Now       func() time.Time
}
