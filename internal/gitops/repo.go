// Package gitops reads repository state through go-git and performs every
// mutating or remote operation through the git CLI.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/lyndonlyu/releasekit/internal/retry"
	"github.com/lyndonlyu/releasekit/internal/runner"
)

var (
	ErrNotRepository = errors.New("gitops: not a git repository")
	ErrDetachedHead  = errors.New("gitops: HEAD is detached")
	ErrTagNotFound   = errors.New("gitops: tag not found")
)

// Commit is one entry of the history walk.
type Commit struct {
	Hash    string
	Message string
}

// Identity is the configured committer.
type Identity struct {
	Name  string
	Email string
}

// Repo is a working copy. Reads go through go-git; writes shell out to git.
type Repo struct {
	dir    string
	repo   *git.Repository
	run    runner.Runner
	policy retry.Policy
}

// Option customizes a Repo.
type Option func(*Repo)

// WithRunner replaces the command runner used for git CLI calls.
func WithRunner(r runner.Runner) Option {
	return func(rp *Repo) { rp.run = r }
}

// WithRetry sets the backoff policy for network operations (push, ls-remote).
func WithRetry(p retry.Policy) Option {
	return func(rp *Repo) { rp.policy = p }
}

func Open(dir string, opts ...Option) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("gitops: open %s: %w", dir, err)
	}
	r := &Repo{
		dir:    dir,
		repo:   repo,
		run:    runner.New(runner.Options{}),
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// IsRepository reports whether dir is inside a git working copy.
func IsRepository(dir string) bool {
	_, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	return err == nil
}

func (r *Repo) Dir() string { return r.dir }

// Head returns the commit hash HEAD points to.
func (r *Repo) Head(ctx context.Context) (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("gitops: resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("gitops: resolve HEAD: %w", err)
	}
	if !ref.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return ref.Name().Short(), nil
}

// Dirty lists paths with uncommitted changes, untracked files included.
func (r *Repo) Dirty(ctx context.Context) ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("gitops: worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("gitops: status: %w", err)
	}
	var paths []string
	for path, fs := range status {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Identity resolves user.name and user.email from repository, global and
// system config. GIT_COMMITTER_* variables are honored by asking git itself
// when go-git finds nothing.
func (r *Repo) Identity(ctx context.Context) (Identity, error) {
	var id Identity
	cfg, err := r.repo.ConfigScoped(gitconfig.SystemScope)
	if err == nil {
		id.Name = cfg.User.Name
		id.Email = cfg.User.Email
	}
	if id.Name == "" {
		id.Name, _ = r.git(ctx, "config", "--get", "user.name")
	}
	if id.Email == "" {
		id.Email, _ = r.git(ctx, "config", "--get", "user.email")
	}
	if id.Name == "" || id.Email == "" {
		return id, fmt.Errorf("gitops: committer identity not configured (user.name=%q user.email=%q)", id.Name, id.Email)
	}
	return id, nil
}

// Tags lists local tag names.
func (r *Repo) Tags(ctx context.Context) ([]string, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("gitops: list tags: %w", err)
	}
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gitops: list tags: %w", err)
	}
	return names, nil
}

func (r *Repo) TagExists(ctx context.Context, name string) (bool, error) {
	_, err := r.repo.Tag(name)
	if errors.Is(err, git.ErrTagNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gitops: lookup tag %s: %w", name, err)
	}
	return true, nil
}

// tagCommit peels a lightweight or annotated tag to its commit hash.
func (r *Repo) tagCommit(name string) (plumbing.Hash, error) {
	ref, err := r.repo.Tag(name)
	if errors.Is(err, git.ErrTagNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrTagNotFound, name)
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}
	obj, err := r.repo.TagObject(ref.Hash())
	switch {
	case err == nil:
		c, err := obj.Commit()
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return c.Hash, nil
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return ref.Hash(), nil
	default:
		return plumbing.ZeroHash, err
	}
}

// CommitsSince returns the commits reachable from HEAD but not from the
// commit tagged since, newest first. Commits merged in from other branches
// are included. An empty since walks the whole history.
func (r *Repo) CommitsSince(ctx context.Context, since string) ([]Commit, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("gitops: resolve HEAD: %w", err)
	}
	from, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("gitops: log: %w", err)
	}

	released := make(map[plumbing.Hash]bool)
	if since != "" {
		stop, err := r.tagCommit(since)
		if err != nil {
			return nil, err
		}
		base, err := r.repo.CommitObject(stop)
		if err != nil {
			return nil, fmt.Errorf("gitops: log: %w", err)
		}
		err = object.NewCommitPreorderIter(base, nil, nil).ForEach(func(c *object.Commit) error {
			released[c.Hash] = true
			return ctx.Err()
		})
		if err != nil {
			return nil, fmt.Errorf("gitops: log: %w", err)
		}
	}

	var commits []Commit
	iter := object.NewCommitPreorderIter(from, released, nil)
	defer iter.Close()
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, Commit{Hash: c.Hash.String(), Message: strings.TrimSpace(c.Message)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gitops: log: %w", err)
	}
	return commits, nil
}
