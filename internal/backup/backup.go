// Package backup snapshots files before a release mutates them and puts them
// back when the release fails.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("backup: not found")

// Kind says what was found at a path when the snapshot was taken.
type Kind string

const (
	KindFile   Kind = "file"
	KindAbsent Kind = "absent"
	KindDir    Kind = "dir"
	KindError  Kind = "error"
)

// Entry is the captured state of one path. Content is held in memory and,
// when the manager persists, in a blob named by Hash.
type Entry struct {
	Path    string      `json:"path"`
	Kind    Kind        `json:"kind"`
	Mode    fs.FileMode `json:"mode,omitempty"`
	Hash    string      `json:"hash,omitempty"`
	Members []string    `json:"members,omitempty"`
	Err     string      `json:"error,omitempty"`
	Content []byte      `json:"-"`
}

type Backup struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Entries   map[string]*Entry `json:"entries"`
}

// Paths returns the captured paths in sorted order.
func (b *Backup) Paths() []string {
	paths := make([]string, 0, len(b.Entries))
	for p := range b.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Manager owns the snapshots of one release run. Paths are resolved against
// root. With a non-empty dir, snapshots are also written there so a crashed
// run can still be restored.
type Manager struct {
	root string
	dir  string

	mu      sync.Mutex
	backups map[string]*Backup
}

func New(root, dir string) *Manager {
	return &Manager{root: root, dir: dir, backups: make(map[string]*Backup)}
}

// Create snapshots paths. A path that cannot be read is recorded with its
// error; it never aborts the snapshot. A directory is captured as its member
// files plus a marker listing them.
func (m *Manager) Create(paths []string) (string, error) {
	b := &Backup{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Entries:   make(map[string]*Entry),
	}
	for _, p := range paths {
		m.capture(b, filepath.Clean(p))
	}

	if m.dir != "" {
		if err := m.persist(b); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	m.backups[b.ID] = b
	m.mu.Unlock()
	return b.ID, nil
}

func (m *Manager) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.root, p)
}

func (m *Manager) capture(b *Backup, p string) {
	if _, done := b.Entries[p]; done {
		return
	}
	info, err := os.Stat(m.abs(p))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		b.Entries[p] = &Entry{Path: p, Kind: KindAbsent}
		return
	case err != nil:
		b.Entries[p] = &Entry{Path: p, Kind: KindError, Err: err.Error()}
		return
	}

	if !info.IsDir() {
		b.Entries[p] = readEntry(m.abs(p), p, info.Mode().Perm())
		return
	}

	dir := &Entry{Path: p, Kind: KindDir, Mode: info.Mode().Perm()}
	b.Entries[p] = dir
	walkErr := filepath.WalkDir(m.abs(p), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(m.abs(p), path)
		if err != nil {
			return err
		}
		member := filepath.Join(p, rel)
		dir.Members = append(dir.Members, member)
		info, err := d.Info()
		if err != nil {
			b.Entries[member] = &Entry{Path: member, Kind: KindError, Err: err.Error()}
			return nil
		}
		b.Entries[member] = readEntry(path, member, info.Mode().Perm())
		return nil
	})
	if walkErr != nil {
		dir.Kind = KindError
		dir.Err = walkErr.Error()
	}
}

func readEntry(abs, p string, mode fs.FileMode) *Entry {
	data, err := os.ReadFile(abs)
	if err != nil {
		return &Entry{Path: p, Kind: KindError, Err: err.Error()}
	}
	sum := sha256.Sum256(data)
	return &Entry{Path: p, Kind: KindFile, Mode: mode, Hash: hex.EncodeToString(sum[:]), Content: data}
}

// Get returns a snapshot held in memory or, failing that, on disk.
func (m *Manager) Get(id string) (*Backup, error) {
	m.mu.Lock()
	b, ok := m.backups[id]
	m.mu.Unlock()
	if ok {
		return b, nil
	}
	if m.dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.load(id)
}

// Cleanup discards a snapshot. Call it only after the release succeeded or
// a restore was verified.
func (m *Manager) Cleanup(id string) error {
	m.mu.Lock()
	_, ok := m.backups[id]
	delete(m.backups, id)
	m.mu.Unlock()

	if m.dir == "" {
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	}
	if err := os.RemoveAll(m.snapshotDir(id)); err != nil {
		return fmt.Errorf("backup: cleanup %s: %w", id, err)
	}
	return nil
}

// List returns the snapshots persisted on disk, oldest first.
func (m *Manager) List() ([]*Backup, error) {
	if m.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}
	var out []*Backup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := m.load(e.Name())
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Manager) snapshotDir(id string) string {
	return filepath.Join(m.dir, id)
}

func (m *Manager) persist(b *Backup) error {
	dir := m.snapshotDir(b.ID)
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o700); err != nil {
		return fmt.Errorf("backup: mkdir: %w", err)
	}
	for _, e := range b.Entries {
		if e.Kind != KindFile {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, "blobs", e.Hash), e.Content, 0o600); err != nil {
			return fmt.Errorf("backup: write blob %s: %w", e.Path, err)
		}
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("backup: marshal manifest: %w", err)
	}
	path := filepath.Join(dir, "manifest.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("backup: write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *Manager) load(id string) (*Backup, error) {
	dir := m.snapshotDir(id)
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("backup: read manifest: %w", err)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("backup: parse manifest: %w", err)
	}
	for _, e := range b.Entries {
		if e.Kind != KindFile {
			continue
		}
		e.Content, err = os.ReadFile(filepath.Join(dir, "blobs", e.Hash))
		if err != nil {
			return nil, fmt.Errorf("backup: read blob %s: %w", e.Path, err)
		}
	}
	return &b, nil
}
