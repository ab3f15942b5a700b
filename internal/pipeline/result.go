package pipeline

import (
	"time"

	"github.com/lyndonlyu/releasekit/internal/ledger"
	"github.com/lyndonlyu/releasekit/internal/mutate"
	"github.com/lyndonlyu/releasekit/internal/version"
)

// Result is everything a caller learns about a release. Release never
// returns an error or panics past it.
type Result struct {
	RunID           string
	Success         bool
	DryRun          bool
	Version         string
	PreviousVersion string
	Tag             string
	Bump            version.Bump
	CommitCount     int
	UpdatedFiles    []string
	Notes           string
	Preview         []mutate.Preview

	GithubReleaseURL string
	PublishURL       string
	// Attempts is the number of registry polls made by publish verification.
	Attempts    int
	FixAttempts int
	FailedCheck string

	Error     string
	ErrorKind ErrorKind
	// Rollback is set whenever a rollback ran.
	Rollback      *ledger.Report
	RollbackError string
	RestoreFailed bool

	Duration time.Duration
}
