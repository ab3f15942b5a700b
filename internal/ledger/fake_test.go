package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lyndonlyu/releasekit/internal/github"
)

// fakeGit models one local repository and one remote.
type fakeGit struct {
	mu         sync.Mutex
	head       string
	tags       map[string]bool
	remoteTags map[string]bool
	branches   map[string]string
	calls      []string

	failDeleteTag  error
	ignoreReset    bool
	remoteQueryErr error
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		tags:       map[string]bool{},
		remoteTags: map[string]bool{},
		branches:   map[string]string{},
	}
}

func (f *fakeGit) log(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeGit) Head(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeGit) ResetSoft(ctx context.Context, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("reset %s", commit)
	if !f.ignoreReset {
		f.head = commit
	}
	return nil
}

func (f *fakeGit) TagExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags[name], nil
}

func (f *fakeGit) DeleteTag(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("delete-tag %s", name)
	if f.failDeleteTag != nil {
		return f.failDeleteTag
	}
	delete(f.tags, name)
	return nil
}

func (f *fakeGit) RemoteTagExists(ctx context.Context, remote, tag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteQueryErr != nil {
		return false, f.remoteQueryErr
	}
	return f.remoteTags[tag], nil
}

func (f *fakeGit) DeleteRemoteTag(ctx context.Context, remote, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("delete-remote-tag %s", tag)
	delete(f.remoteTags, tag)
	return nil
}

func (f *fakeGit) RemoteBranchHead(ctx context.Context, remote, branch string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteQueryErr != nil {
		return "", false, f.remoteQueryErr
	}
	h, ok := f.branches[branch]
	return h, ok, nil
}

func (f *fakeGit) ForcePushWithLease(ctx context.Context, remote, branch, expected, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("force-push %s %s->%s", branch, expected, target)
	if f.branches[branch] != expected {
		return errors.New("stale info")
	}
	f.branches[branch] = target
	return nil
}

func (f *fakeGit) DeleteRemoteBranch(ctx context.Context, remote, branch, expected string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("delete-branch %s", branch)
	delete(f.branches, branch)
	return nil
}

type fakeReleases struct {
	mu       sync.Mutex
	releases map[int64]string
	calls    []string
}

func newFakeReleases() *fakeReleases {
	return &fakeReleases{releases: map[int64]string{}}
}

func (f *fakeReleases) DeleteRelease(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("delete %d", id))
	if _, ok := f.releases[id]; !ok {
		return github.ErrNotFound
	}
	delete(f.releases, id)
	return nil
}

func (f *fakeReleases) DeleteReleaseByTag(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete-by-tag "+tag)
	for id, t := range f.releases {
		if t == tag {
			delete(f.releases, id)
			return nil
		}
	}
	return github.ErrNotFound
}

func (f *fakeReleases) GetRelease(ctx context.Context, id int64) (*github.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.releases[id]; ok {
		return &github.Release{ID: id, TagName: t}, nil
	}
	return nil, github.ErrNotFound
}

func (f *fakeReleases) GetReleaseByTag(ctx context.Context, tag string) (*github.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.releases {
		if t == tag {
			return &github.Release{ID: id, TagName: t}, nil
		}
	}
	return nil, github.ErrNotFound
}
