package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyndonlyu/releasekit/internal/retry"
)

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	res, err := r.run.Run(ctx, r.dir, "git", args...)
	if err != nil {
		return strings.TrimSpace(res.Stdout), err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// gitNet runs a git command that talks to a remote, retrying transient
// failures under the configured policy.
func (r *Repo) gitNet(ctx context.Context, args ...string) (string, error) {
	var out string
	err := r.policy.Execute(ctx, func(ctx context.Context) (retry.ErrorKind, error) {
		res, err := r.run.Run(ctx, r.dir, "git", args...)
		out = strings.TrimSpace(res.Stdout)
		if err != nil {
			return retry.Classify(err, res.ExitCode, res.Stderr), err
		}
		return retry.Retriable, nil
	})
	return out, err
}

// Add stages the given paths.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	if _, err := r.git(ctx, args...); err != nil {
		return fmt.Errorf("gitops: add: %w", err)
	}
	return nil
}

// AddAll stages every change in the working tree.
func (r *Repo) AddAll(ctx context.Context) error {
	if _, err := r.git(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("gitops: add: %w", err)
	}
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func (r *Repo) HasStagedChanges(ctx context.Context) (bool, error) {
	res, err := r.run.Run(ctx, r.dir, "git", "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	if res.ExitCode == 1 {
		return true, nil
	}
	return false, fmt.Errorf("gitops: diff: %w", err)
}

// Commit records the index and returns the new HEAD hash.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	if _, err := r.git(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("gitops: commit: %w", err)
	}
	return r.git(ctx, "rev-parse", "HEAD")
}

// CreateTag creates an annotated tag on HEAD.
func (r *Repo) CreateTag(ctx context.Context, name, message string) error {
	if _, err := r.git(ctx, "tag", "-a", name, "-m", message); err != nil {
		return fmt.Errorf("gitops: tag %s: %w", name, err)
	}
	return nil
}

// DeleteTag removes a local tag. A missing tag is not an error.
func (r *Repo) DeleteTag(ctx context.Context, name string) error {
	exists, err := r.TagExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if _, err := r.git(ctx, "tag", "-d", name); err != nil {
		return fmt.Errorf("gitops: delete tag %s: %w", name, err)
	}
	return nil
}

// ResetSoft moves HEAD to commit, keeping the index and working tree.
func (r *Repo) ResetSoft(ctx context.Context, commit string) error {
	if _, err := r.git(ctx, "reset", "--soft", commit); err != nil {
		return fmt.Errorf("gitops: reset --soft %s: %w", commit, err)
	}
	return nil
}

// Unstage resets the index entries of paths to HEAD, leaving the working
// tree alone.
func (r *Repo) Unstage(ctx context.Context, paths ...string) error {
	args := append([]string{"reset", "-q", "HEAD", "--"}, paths...)
	if _, err := r.git(ctx, args...); err != nil {
		return fmt.Errorf("gitops: unstage: %w", err)
	}
	return nil
}

// Push pushes branch to remote.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	if _, err := r.gitNet(ctx, "push", remote, "refs/heads/"+branch+":refs/heads/"+branch); err != nil {
		return fmt.Errorf("gitops: push %s %s: %w", remote, branch, err)
	}
	return nil
}

func (r *Repo) PushTag(ctx context.Context, remote, tag string) error {
	if _, err := r.gitNet(ctx, "push", remote, "refs/tags/"+tag); err != nil {
		return fmt.Errorf("gitops: push tag %s: %w", tag, err)
	}
	return nil
}

// RemoteBranchHead returns the commit the remote branch points at, and false
// when the branch does not exist there.
func (r *Repo) RemoteBranchHead(ctx context.Context, remote, branch string) (string, bool, error) {
	out, err := r.gitNet(ctx, "ls-remote", "--heads", remote, "refs/heads/"+branch)
	if err != nil {
		return "", false, fmt.Errorf("gitops: ls-remote %s: %w", remote, err)
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "refs/heads/"+branch {
			return fields[0], true, nil
		}
	}
	return "", false, nil
}

func (r *Repo) RemoteTagExists(ctx context.Context, remote, tag string) (bool, error) {
	out, err := r.gitNet(ctx, "ls-remote", "--tags", remote, "refs/tags/"+tag)
	if err != nil {
		return false, fmt.Errorf("gitops: ls-remote %s: %w", remote, err)
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "refs/tags/"+tag {
			return true, nil
		}
	}
	return false, nil
}

// DeleteRemoteTag removes tag from remote.
func (r *Repo) DeleteRemoteTag(ctx context.Context, remote, tag string) error {
	if _, err := r.gitNet(ctx, "push", remote, ":refs/tags/"+tag); err != nil {
		return fmt.Errorf("gitops: delete remote tag %s: %w", tag, err)
	}
	return nil
}

// ForcePushWithLease moves the remote branch to target, only if it still
// points at expected.
func (r *Repo) ForcePushWithLease(ctx context.Context, remote, branch, expected, target string) error {
	lease := fmt.Sprintf("--force-with-lease=%s:%s", branch, expected)
	if _, err := r.gitNet(ctx, "push", lease, remote, target+":refs/heads/"+branch); err != nil {
		return fmt.Errorf("gitops: force push %s to %s/%s: %w", target, remote, branch, err)
	}
	return nil
}

// DeleteRemoteBranch removes branch from remote, only if it still points at
// expected.
func (r *Repo) DeleteRemoteBranch(ctx context.Context, remote, branch, expected string) error {
	lease := fmt.Sprintf("--force-with-lease=%s:%s", branch, expected)
	if _, err := r.gitNet(ctx, "push", lease, remote, ":refs/heads/"+branch); err != nil {
		return fmt.Errorf("gitops: delete remote branch %s: %w", branch, err)
	}
	return nil
}

// RemoteURL returns the fetch URL of remote.
func (r *Repo) RemoteURL(ctx context.Context, remote string) (string, error) {
	rem, err := r.repo.Remote(remote)
	if err != nil {
		return "", fmt.Errorf("gitops: remote %s: %w", remote, err)
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("gitops: remote %s has no URL", remote)
	}
	return urls[0], nil
}
