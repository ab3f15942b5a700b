package ledger

import (
	"encoding/json"
	"fmt"
)

// Type names the kind of side effect an operation records.
type Type string

const (
	TypeFileBackup    Type = "file_backup"
	TypeFileUpdate    Type = "file_update"
	TypeGitCommit     Type = "git_commit"
	TypeGitTag        Type = "git_tag"
	TypeGitPush       Type = "git_push"
	TypeGithubRelease Type = "github_release"
	TypeJsrPublish    Type = "jsr_publish"
)

// Detail carries exactly the metadata an operation's rollback needs. It is
// implemented by one struct per Type.
type Detail interface {
	Type() Type
}

type FileBackup struct {
	Path     string `json:"path"`
	BackupID string `json:"backup_id"`
}

type FileUpdate struct {
	Path     string `json:"path"`
	BackupID string `json:"backup_id"`
}

type GitCommit struct {
	Hash           string `json:"hash"`
	PreviousCommit string `json:"previous_commit"`
}

// GitTag is a local tag. Remote names where it is meant to be published;
// rollback deletes it there only when it is actually present.
type GitTag struct {
	Name   string `json:"name"`
	Remote string `json:"remote,omitempty"`
}

// GitPush records a branch push. An empty PreviousRemoteCommit means the
// branch did not exist on the remote before.
type GitPush struct {
	Remote               string   `json:"remote"`
	Branch               string   `json:"branch"`
	PreviousRemoteCommit string   `json:"previous_remote_commit,omitempty"`
	PushedCommit         string   `json:"pushed_commit"`
	Tags                 []string `json:"tags,omitempty"`
}

type GithubRelease struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
	URL     string `json:"url,omitempty"`
}

type JsrPublish struct {
	Package string `json:"package"`
	Version string `json:"version"`
	URL     string `json:"url,omitempty"`
}

func (FileBackup) Type() Type    { return TypeFileBackup }
func (FileUpdate) Type() Type    { return TypeFileUpdate }
func (GitCommit) Type() Type     { return TypeGitCommit }
func (GitTag) Type() Type        { return TypeGitTag }
func (GitPush) Type() Type       { return TypeGitPush }
func (GithubRelease) Type() Type { return TypeGithubRelease }
func (JsrPublish) Type() Type    { return TypeJsrPublish }

func decodeDetail(t Type, raw json.RawMessage) (Detail, error) {
	var d Detail
	var err error
	switch t {
	case TypeFileBackup:
		var v FileBackup
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeFileUpdate:
		var v FileUpdate
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeGitCommit:
		var v GitCommit
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeGitTag:
		var v GitTag
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeGitPush:
		var v GitPush
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeGithubRelease:
		var v GithubRelease
		err = json.Unmarshal(raw, &v)
		d = v
	case TypeJsrPublish:
		var v JsrPublish
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("ledger: unknown operation type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", t, err)
	}
	return d, nil
}
