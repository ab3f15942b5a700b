package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lyndonlyu/releasekit/internal/audit"
	"github.com/lyndonlyu/releasekit/internal/autofix"
	"github.com/lyndonlyu/releasekit/internal/backup"
	"github.com/lyndonlyu/releasekit/internal/changelog"
	"github.com/lyndonlyu/releasekit/internal/github"
	"github.com/lyndonlyu/releasekit/internal/ledger"
	"github.com/lyndonlyu/releasekit/internal/mutate"
	"github.com/lyndonlyu/releasekit/internal/runner"
	"github.com/lyndonlyu/releasekit/internal/version"
)

// change is the planned new content of one file.
type change struct {
	path   string
	before []byte
	after  []byte
	mode   fs.FileMode
}

func (c *change) preview() mutate.Preview {
	return mutate.Preview{Path: c.path, Before: string(c.before), After: string(c.after)}
}

func (r *run) abs(rel string) string {
	return filepath.Join(r.p.deps.Repo.Dir(), rel)
}

func (r *run) preconditions(ctx context.Context) *Error {
	cfg := r.p.cfg
	deps := r.p.deps
	if deps.Repo == nil {
		return newError(KindPrecondition, StateChecks, ErrNotRepository)
	}

	dirty, err := deps.Repo.Dirty(ctx)
	if err != nil {
		return newError(KindPrecondition, StateChecks, err)
	}
	if len(dirty) > 0 {
		shown := dirty
		if len(shown) > 5 {
			shown = append(shown[:5:5], fmt.Sprintf("and %d more", len(dirty)-5))
		}
		return newError(KindPrecondition, StateChecks, fmt.Errorf("uncommitted changes: %s", strings.Join(shown, ", ")))
	}

	paths := []string{cfg.VersionFile, cfg.ChangelogFile}
	for _, t := range cfg.Files {
		paths = append(paths, t.Path)
	}
	if cfg.Docs.Enabled {
		paths = append(paths, cfg.Docs.Dir)
	}
	for _, p := range paths {
		if err := checkRelative(p); err != nil {
			return newError(KindValidation, StateChecks, err)
		}
	}
	if err := mutate.ValidateTargets(cfg.Files); err != nil {
		return newError(KindValidation, StateChecks, err)
	}

	if _, err := os.Stat(r.abs(cfg.VersionFile)); err != nil {
		return newError(KindPrecondition, StateChecks, fmt.Errorf("version file %s: %w", cfg.VersionFile, err))
	}
	if _, err := deps.Repo.Identity(ctx); err != nil {
		return newError(KindPrecondition, StateChecks, err)
	}

	r.branch = cfg.Branch
	if r.branch == "" {
		if r.branch, err = deps.Repo.CurrentBranch(ctx); err != nil {
			return newError(KindPrecondition, StateChecks, err)
		}
	}

	switch {
	case cfg.GitHub.Enabled && deps.Releases == nil:
		return newError(KindPrecondition, StateChecks, fmt.Errorf("github releases enabled but no token in $%s", cfg.GitHub.TokenEnv))
	case cfg.Publish.Enabled && deps.Publisher == nil:
		return newError(KindPrecondition, StateChecks, errors.New("publish verification enabled but no verifier configured"))
	case cfg.Publish.Enabled && cfg.Publish.WaitForCI && deps.CI == nil:
		return newError(KindPrecondition, StateChecks, errors.New("wait_for_ci enabled but no CI monitor configured"))
	}
	return nil
}

func checkRelative(p string) error {
	clean := filepath.Clean(p)
	if p == "" || filepath.IsAbs(p) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q must be inside the repository", p)
	}
	return nil
}

func (r *run) resolveVersion(ctx context.Context, bump version.Bump) *Error {
	cfg := r.p.cfg
	repo := r.p.deps.Repo

	content, err := os.ReadFile(r.abs(cfg.VersionFile))
	if err != nil {
		return newError(KindPrecondition, StateVersion, err)
	}
	current, err := mutate.ReadVersion(cfg.VersionFile, content)
	if err != nil {
		return newError(KindPrecondition, StateVersion, err)
	}
	r.current = current
	r.res.PreviousVersion = current

	since := ""
	lastTag := cfg.TagPrefix + current
	exists, err := repo.TagExists(ctx, lastTag)
	if err != nil {
		return newError(KindGit, StateVersion, err)
	}
	if exists {
		since = lastTag
	}
	raw, err := repo.CommitsSince(ctx, since)
	if err != nil {
		return newError(KindGit, StateVersion, err)
	}
	r.commits = make([]version.Commit, 0, len(raw))
	for _, c := range raw {
		r.commits = append(r.commits, version.ParseCommit(c.Hash, c.Message))
	}
	r.res.CommitCount = len(r.commits)

	if len(r.commits) == 0 && bump == version.BumpNone {
		return newError(KindPrecondition, StateVersion, fmt.Errorf("%w (%s)", ErrNoCommits, lastTag))
	}
	next, applied, err := version.Next(current, r.commits, bump)
	if err != nil {
		return newError(KindValidation, StateVersion, err)
	}
	tag := cfg.TagPrefix + next
	if exists, err := repo.TagExists(ctx, tag); err != nil {
		return newError(KindGit, StateVersion, err)
	} else if exists {
		return newError(KindPrecondition, StateVersion, fmt.Errorf("tag %s already exists", tag))
	}

	r.res.Version = next
	r.res.Bump = applied
	r.res.Tag = tag
	r.log = r.log.With("version", next)
	r.log.Info("next version", "from", current, "to", next, "bump", applied, "commits", len(r.commits))
	return nil
}

// prepare computes every file change in memory. Nothing is written.
func (r *run) prepare(ctx context.Context) *Error {
	cfg := r.p.cfg
	now := r.p.deps.Now()
	data := mutate.Data{
		Version:         r.res.Version,
		PreviousVersion: r.current,
		Tag:             r.res.Tag,
		Date:            now.Format("2006-01-02"),
	}
	r.res.Notes = changelog.Notes(r.commits)
	entry := changelog.Entry(changelog.Release{Version: r.res.Version, Date: now, Commits: r.commits})

	if err := r.planFile(cfg.VersionFile, mutate.ForVersionFile(cfg.VersionFile), data, false); err != nil {
		return err
	}
	prepend := mutate.Func(func(content []byte, _ string) ([]byte, error) {
		return changelog.Prepend(content, entry), nil
	})
	if err := r.planFile(cfg.ChangelogFile, prepend, data, true); err != nil {
		return err
	}
	for _, t := range cfg.Files {
		m, err := mutate.ForTarget(t)
		if err != nil {
			return newError(KindValidation, StateChangelog, err)
		}
		if err := r.planFile(t.Path, m, data, false); err != nil {
			return err
		}
	}

	r.res.Preview = r.res.Preview[:0]
	r.res.UpdatedFiles = r.res.UpdatedFiles[:0]
	for _, c := range r.plan {
		p := c.preview()
		r.res.Preview = append(r.res.Preview, p)
		if p.Changed() {
			r.res.UpdatedFiles = append(r.res.UpdatedFiles, c.path)
		}
	}
	return nil
}

// planFile applies m on top of whatever is already planned for path.
func (r *run) planFile(path string, m mutate.Mutator, data mutate.Data, mayBeAbsent bool) *Error {
	path = filepath.Clean(path)
	var c *change
	for _, existing := range r.plan {
		if existing.path == path {
			c = existing
			break
		}
	}
	if c == nil {
		c = &change{path: path, mode: 0o644}
		info, err := os.Stat(r.abs(path))
		switch {
		case err == nil:
			c.mode = info.Mode().Perm()
			if c.before, err = os.ReadFile(r.abs(path)); err != nil {
				return newError(KindMutation, StateChangelog, err)
			}
		case errors.Is(err, fs.ErrNotExist) && mayBeAbsent:
		default:
			return newError(KindMutation, StateChangelog, fmt.Errorf("read %s: %w", path, err))
		}
		c.after = c.before
		r.plan = append(r.plan, c)
	}
	out, err := m.Mutate(path, c.after, data)
	if err != nil {
		if errors.Is(err, mutate.ErrDangerousPattern) {
			return newError(KindValidation, StateChangelog, err)
		}
		return newError(KindMutation, StateChangelog, err)
	}
	c.after = out
	return nil
}

func (r *run) confirm(ctx context.Context) *Error {
	if r.p.cfg.SkipConfirmation {
		return nil
	}
	c := r.p.deps.Confirm
	if c == nil {
		return newError(KindCancelled, StateChangelog, fmt.Errorf("%w: confirmation required", ErrCancelled))
	}
	title := fmt.Sprintf("Release %s?", r.res.Tag)
	desc := fmt.Sprintf("%s -> %s (%s) from %d commits; updates %s",
		r.current, r.res.Version, r.res.Bump, r.res.CommitCount, strings.Join(r.res.UpdatedFiles, ", "))
	ok, err := c.Confirm(ctx, title, desc)
	if err != nil {
		return newError(KindCancelled, StateChangelog, err)
	}
	if !ok {
		return newError(KindCancelled, StateChangelog, ErrCancelled)
	}
	return nil
}

// track runs action as a ledger operation. An action that fails after a
// partial effect returns a non-nil detail with its error; the operation is
// then completed so that rollback undoes the part that happened.
func (r *run) track(detail ledger.Detail, desc string, action func() (ledger.Detail, error)) error {
	id := r.ledger.Track(detail, desc, nil)
	if err := r.ledger.MarkInProgress(id); err != nil {
		return err
	}
	done, err := action()
	if err != nil {
		if done != nil {
			if markErr := r.ledger.MarkCompleted(id, done); markErr != nil {
				r.log.Warn("ledger", "op", desc, "err", markErr)
			}
		} else if markErr := r.ledger.MarkFailed(id, err); markErr != nil {
			r.log.Warn("ledger", "op", desc, "err", markErr)
		}
		return err
	}
	return r.ledger.MarkCompleted(id, done)
}

// apply snapshots every touched path, writes the planned changes and runs
// the docs generator, formatter and preflight checks.
func (r *run) apply(ctx context.Context) *Error {
	cfg := r.p.cfg
	paths := make([]string, 0, len(r.plan)+1)
	for _, c := range r.plan {
		paths = append(paths, c.path)
	}
	if cfg.Docs.Enabled {
		paths = append(paths, filepath.Clean(cfg.Docs.Dir))
	}

	backupDir := ""
	if cfg.StateDir != "" {
		backupDir = cfg.BackupDir()
	}
	r.backups = backup.New(r.p.deps.Repo.Dir(), backupDir)
	id, err := r.backups.Create(paths)
	if err != nil {
		return newError(KindMutation, StateChangelog, fmt.Errorf("backup: %w", err))
	}
	r.backupID = id
	r.mutated = true
	for _, p := range paths {
		opID := r.ledger.Track(ledger.FileBackup{Path: p, BackupID: id}, "snapshot "+p, nil)
		if err := r.ledger.MarkCompleted(opID, nil); err != nil {
			r.log.Warn("ledger", "op", "snapshot "+p, "err", err)
		}
	}

	for _, c := range r.plan {
		if string(c.before) == string(c.after) {
			continue
		}
		err := r.track(ledger.FileUpdate{Path: c.path, BackupID: id}, "update "+c.path, func() (ledger.Detail, error) {
			if err := writeFile(r.abs(c.path), c.after, c.mode); err != nil {
				return nil, err
			}
			return ledger.FileUpdate{Path: c.path, BackupID: id}, nil
		})
		if err != nil {
			return newError(KindMutation, StateChangelog, err)
		}
	}

	if cfg.Docs.Enabled {
		if err := r.shell(ctx, cfg.Docs.Command); err != nil {
			return newError(KindMutation, StateChangelog, fmt.Errorf("docs: %w", err))
		}
	}
	if cfg.FormatCommand != "" {
		if err := r.shell(ctx, cfg.FormatCommand); err != nil {
			return newError(KindMutation, StateChangelog, fmt.Errorf("format: %w", err))
		}
	}
	r.audit(audit.Entry{
		Event:   audit.EventFilesUpdated,
		Message: fmt.Sprintf("updated %d files", len(r.res.UpdatedFiles)),
		Fields:  map[string]string{"files": strings.Join(r.res.UpdatedFiles, ","), "backup": id},
	})
	return r.preflight(ctx)
}

func writeFile(path string, data []byte, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, mode)
}

func (r *run) shell(ctx context.Context, command string) error {
	res, err := runner.Shell(ctx, r.p.deps.Runner, r.p.deps.Repo.Dir(), command)
	if err != nil {
		if out := res.Output(); out != "" {
			return fmt.Errorf("%s: %w\n%s", command, err, out)
		}
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

// preflight validates once and, for a fixable failure, makes exactly one fix
// attempt followed by exactly one re-validation.
func (r *run) preflight(ctx context.Context) *Error {
	v := r.p.deps.Preflight
	if v == nil {
		return nil
	}
	res := v.Validate(ctx)
	if res.Success {
		return nil
	}
	r.res.FailedCheck = res.FailedCheck
	r.log.Warn("preflight failed", "check", res.FailedCheck, "fixable", res.Fixable)

	autofixOn := r.p.cfg.AutoFix.Basic || r.p.cfg.AutoFix.AI.Enabled
	if res.Fixable && autofixOn && r.p.deps.Fixer != nil {
		r.enter(StateFixing, res.FailedCheck)
		fix := r.p.deps.Fixer.FixPreflight(ctx, res)
		r.recordFix(fix, res.FailedCheck)
		res = v.Validate(ctx)
		if res.Success {
			r.res.FailedCheck = ""
			return nil
		}
		r.res.FailedCheck = res.FailedCheck
	}

	err := fmt.Errorf("check %q failed", res.FailedCheck)
	if res.Suggestion != "" {
		err = fmt.Errorf("%w: %s", err, res.Suggestion)
	}
	return newError(KindPreflight, StateChangelog, err)
}

func (r *run) recordFix(fix autofix.Result, target string) {
	r.res.FixAttempts++
	r.p.deps.Metrics.AutoFix(string(fix.Method), fix.Applied)
	if !fix.Applied {
		r.log.Warn("auto-fix did not apply", "target", target, "method", fix.Method, "err", fix.Err)
		return
	}
	r.audit(audit.Entry{
		Event:   audit.EventAutoFixApplied,
		Message: "auto-fix applied for " + target,
		Fields: map[string]string{
			"method":   string(fix.Method),
			"commands": strings.Join(fix.Commands, "; "),
			"files":    strings.Join(fix.Files, ","),
		},
	})
}

// gitOperations commits, tags and pushes, each step confirmed before the
// next.
func (r *run) gitOperations(ctx context.Context) *Error {
	repo := r.p.deps.Repo
	cfg := r.p.cfg
	tag := r.res.Tag

	head, err := repo.Head(ctx)
	if err != nil {
		return newError(KindGit, StateGit, err)
	}
	hash, err := r.commitAll(ctx, head, fmt.Sprintf("chore(release): %s", tag))
	if err != nil {
		return newError(KindGit, StateGit, err)
	}

	err = r.track(ledger.GitTag{Name: tag, Remote: cfg.Remote}, "tag "+tag, func() (ledger.Detail, error) {
		if err := repo.CreateTag(ctx, tag, "Release "+tag); err != nil {
			return nil, err
		}
		return ledger.GitTag{Name: tag, Remote: cfg.Remote}, nil
	})
	if err != nil {
		return newError(KindGit, StateGit, err)
	}

	if err := r.push(ctx, hash, tag); err != nil {
		return newError(KindGit, StateGit, err)
	}
	r.audit(audit.Entry{
		Event:   audit.EventGitOperationsCompleted,
		Message: fmt.Sprintf("pushed %s and %s to %s", r.branch, tag, cfg.Remote),
		Fields:  map[string]string{"commit": hash, "branch": r.branch},
	})
	return nil
}

// commitAll stages everything and commits it on top of previous.
func (r *run) commitAll(ctx context.Context, previous, message string) (string, error) {
	repo := r.p.deps.Repo
	if err := repo.AddAll(ctx); err != nil {
		return "", err
	}
	staged, err := repo.HasStagedChanges(ctx)
	if err != nil {
		return "", err
	}
	if !staged {
		return "", errors.New("nothing to commit")
	}
	var hash string
	err = r.track(ledger.GitCommit{PreviousCommit: previous}, message, func() (ledger.Detail, error) {
		h, err := repo.Commit(ctx, message)
		if err != nil {
			return nil, err
		}
		hash = h
		return ledger.GitCommit{Hash: h, PreviousCommit: previous}, nil
	})
	if err != nil {
		return "", err
	}
	r.head = hash
	return hash, nil
}

// push sends the branch and then tags. A tag push failure leaves the branch
// push recorded as completed so that it is rolled back.
func (r *run) push(ctx context.Context, commit string, tags ...string) error {
	repo := r.p.deps.Repo
	remote := r.p.cfg.Remote
	prev, existed, err := repo.RemoteBranchHead(ctx, remote, r.branch)
	if err != nil {
		return err
	}
	if !existed {
		prev = ""
	}
	r.pushed = r.p.deps.Now()

	detail := ledger.GitPush{Remote: remote, Branch: r.branch, PreviousRemoteCommit: prev, PushedCommit: commit}
	return r.track(detail, fmt.Sprintf("push %s to %s", r.branch, remote), func() (ledger.Detail, error) {
		if err := repo.Push(ctx, remote, r.branch); err != nil {
			return nil, err
		}
		for _, t := range tags {
			if err := repo.PushTag(ctx, remote, t); err != nil {
				return detail, err
			}
			detail.Tags = append(detail.Tags, t)
		}
		return detail, nil
	})
}

func (r *run) githubRelease(ctx context.Context) *Error {
	tag := r.res.Tag
	req := github.CreateReleaseRequest{
		TagName:    tag,
		Name:       tag,
		Body:       r.res.Notes,
		Prerelease: strings.Contains(r.res.Version, "-"),
	}
	err := r.track(ledger.GithubRelease{TagName: tag}, "github release "+tag, func() (ledger.Detail, error) {
		rel, err := r.p.deps.Releases.CreateRelease(ctx, req)
		if err != nil {
			// The release may exist even though the call failed; rollback
			// deletes it by tag.
			return ledger.GithubRelease{TagName: tag}, err
		}
		r.res.GithubReleaseURL = rel.HTMLURL
		return ledger.GithubRelease{ID: rel.ID, TagName: tag, URL: rel.HTMLURL}, nil
	})
	if err != nil {
		return newError(KindGit, StateGithub, fmt.Errorf("create release: %w", err))
	}
	r.log.Info("github release created", "url", r.res.GithubReleaseURL)
	return nil
}

// awaitCI waits for the workflow on the pushed commit. A failed run is
// repaired, committed, pushed and re-triggered up to the fixer's limit.
func (r *run) awaitCI(ctx context.Context) *Error {
	watcher := r.p.deps.CI
	fixer := r.p.deps.Fixer
	maxFix := 0
	if fixer != nil {
		maxFix = fixer.MaxAttempts()
	}

	head, since := r.head, r.pushed
	for attempt := 0; ; attempt++ {
		out := watcher.Wait(ctx, head, since)
		if out.Success {
			r.log.Info("ci passed", "commit", head, "fixes", attempt)
			return nil
		}
		r.log.Warn("ci failed", "commit", head, "err", out.Error, "failed_jobs", len(out.FailedJobs))
		if attempt >= maxFix {
			return newError(KindPublishVerification, StateCI,
				fmt.Errorf("ci did not pass after %d fix attempts: %s", attempt, out.Error))
		}

		r.enter(StateFixing, "ci")
		fix := fixer.FixCI(ctx, out)
		r.recordFix(fix, "ci")
		if !fix.Applied {
			return newError(KindPublishVerification, StateCI, fmt.Errorf("ci failed and auto-fix could not repair it: %v", fix.Err))
		}

		msg := fmt.Sprintf("chore(release): repair ci for %s (attempt %d)", r.res.Tag, attempt+1)
		hash, err := r.commitAll(ctx, head, msg)
		if err != nil {
			return newError(KindGit, StateCI, err)
		}
		if err := r.push(ctx, hash); err != nil {
			return newError(KindGit, StateCI, err)
		}
		head, since = hash, r.pushed
		if err := watcher.Trigger(ctx, r.branch); err != nil {
			r.log.Warn("workflow dispatch failed, waiting for push trigger", "err", err)
		}
		r.enter(StateCI, "re-poll")
	}
}

func (r *run) verifyPublish(ctx context.Context) *Error {
	pkg := r.p.cfg.Publish.Package
	res := r.p.deps.Publisher.Verify(ctx, pkg, r.res.Version)
	r.res.Attempts = res.Attempts
	r.p.deps.Metrics.PublishAttempts(res.Attempts)
	if !res.Success {
		return newError(KindPublishVerification, StateJsr, errors.New(res.Error))
	}
	r.res.PublishURL = res.URL

	detail := ledger.JsrPublish{Package: pkg, Version: r.res.Version, URL: res.URL}
	id := r.ledger.Track(detail, "published "+res.Coordinate(), nil)
	if err := r.ledger.MarkCompleted(id, nil); err != nil {
		r.log.Warn("ledger", "op", "jsr publish", "err", err)
	}
	r.log.Info("publish verified", "package", res.Coordinate(), "attempts", res.Attempts)
	return nil
}
