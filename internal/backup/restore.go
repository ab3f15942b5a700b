package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Action is what Restore did to a path.
type Action string

const (
	ActionWritten Action = "written"
	ActionRemoved Action = "removed"
	ActionSkipped Action = "skipped"
)

type FileResult struct {
	Path   string
	Action Action
	Err    error
}

// RestoreResult reports every path Restore touched. Success is false when any
// path could not be put back.
type RestoreResult struct {
	Success bool
	Files   []FileResult
}

// Failed returns the paths that could not be restored.
func (r RestoreResult) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

func (r RestoreResult) Err() error {
	var errs []error
	for _, f := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return errors.Join(errs...)
}

// Restore puts every captured path back. Every path is attempted even after
// a failure.
func (m *Manager) Restore(id string) RestoreResult {
	b, err := m.Get(id)
	if err != nil {
		return RestoreResult{Files: []FileResult{{Path: id, Action: ActionSkipped, Err: err}}}
	}

	res := RestoreResult{Success: true}
	add := func(fr FileResult) {
		if fr.Err != nil {
			res.Success = false
		}
		res.Files = append(res.Files, fr)
	}

	// Directories first so stray files created after the snapshot are gone
	// before members are rewritten.
	for _, p := range b.Paths() {
		if e := b.Entries[p]; e.Kind == KindDir {
			add(m.pruneDir(e))
		}
	}
	for _, p := range b.Paths() {
		e := b.Entries[p]
		switch e.Kind {
		case KindFile:
			add(m.writeFile(e))
		case KindAbsent:
			add(m.removePath(e))
		case KindError:
			add(FileResult{Path: p, Action: ActionSkipped, Err: fmt.Errorf("not captured: %s", e.Err)})
		}
	}
	return res
}

func (m *Manager) writeFile(e *Entry) FileResult {
	abs := m.abs(e.Path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return FileResult{Path: e.Path, Action: ActionWritten, Err: err}
	}
	mode := e.Mode
	if mode == 0 {
		mode = 0o644
	}
	tmp := abs + ".releasekit-tmp"
	if err := os.WriteFile(tmp, e.Content, mode); err != nil {
		return FileResult{Path: e.Path, Action: ActionWritten, Err: err}
	}
	// WriteFile honors umask; put the original bits back.
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return FileResult{Path: e.Path, Action: ActionWritten, Err: err}
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return FileResult{Path: e.Path, Action: ActionWritten, Err: err}
	}
	return FileResult{Path: e.Path, Action: ActionWritten}
}

func (m *Manager) removePath(e *Entry) FileResult {
	err := os.RemoveAll(m.abs(e.Path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return FileResult{Path: e.Path, Action: ActionRemoved, Err: err}
	}
	return FileResult{Path: e.Path, Action: ActionRemoved}
}

// pruneDir deletes files under a captured directory that were not members
// at snapshot time.
func (m *Manager) pruneDir(e *Entry) FileResult {
	members := make(map[string]bool, len(e.Members))
	for _, mem := range e.Members {
		members[mem] = true
	}
	root := m.abs(e.Path)
	var stray []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !members[filepath.Join(e.Path, rel)] {
			stray = append(stray, path)
		}
		return nil
	})
	if err != nil {
		return FileResult{Path: e.Path, Action: ActionRemoved, Err: err}
	}
	var errs []error
	for _, s := range stray {
		if err := os.Remove(s); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	removeEmptyDirs(root)
	if err := os.MkdirAll(root, e.Mode|0o700); err != nil {
		errs = append(errs, err)
	}
	return FileResult{Path: e.Path, Action: ActionRemoved, Err: errors.Join(errs...)}
}

// removeEmptyDirs deletes empty subdirectories of root, deepest first.
func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		os.Remove(d)
	}
}
