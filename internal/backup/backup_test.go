package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func read(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

func TestRoundTripWithAbsentPath(t *testing.T) {
	root := t.TempDir()
	write(t, root, "deno.json", `{"version": "1.0.0"}`)
	write(t, root, "CHANGELOG.md", "# Changelog\n")

	m := New(root, "")
	id, err := m.Create([]string{"deno.json", "CHANGELOG.md", "NEW.md"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	write(t, root, "deno.json", `{"version": "1.0.1"}`)
	write(t, root, "CHANGELOG.md", "# Changelog\n\n## [1.0.1]\n")
	write(t, root, "NEW.md", "created during release")

	res := m.Restore(id)
	require.True(t, res.Success, res.Err())
	assert.Len(t, res.Files, 3)

	assert.Equal(t, `{"version": "1.0.0"}`, read(t, root, "deno.json"))
	assert.Equal(t, "# Changelog\n", read(t, root, "CHANGELOG.md"))
	_, err = os.Stat(filepath.Join(root, "NEW.md"))
	assert.True(t, os.IsNotExist(err), "path absent at snapshot time must be removed")
}

func TestRestoreKeepsMode(t *testing.T) {
	root := t.TempDir()
	write(t, root, "run.sh", "#!/bin/sh\n")
	require.NoError(t, os.Chmod(filepath.Join(root, "run.sh"), 0755))

	m := New(root, "")
	id, err := m.Create([]string{"run.sh"})
	require.NoError(t, err)

	require.NoError(t, os.Chmod(filepath.Join(root, "run.sh"), 0600))
	write(t, root, "run.sh", "changed")

	require.True(t, m.Restore(id).Success)
	info, err := os.Stat(filepath.Join(root, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestDirectorySnapshotRemovesNewFiles(t *testing.T) {
	root := t.TempDir()
	write(t, root, "docs/index.html", "v1")
	write(t, root, "docs/api/mod.html", "v1 api")

	m := New(root, "")
	id, err := m.Create([]string{"docs"})
	require.NoError(t, err)

	write(t, root, "docs/index.html", "v2")
	write(t, root, "docs/api/new.html", "generated")
	write(t, root, "docs/extra/deep.html", "generated")
	require.NoError(t, os.Remove(filepath.Join(root, "docs/api/mod.html")))

	res := m.Restore(id)
	require.True(t, res.Success, res.Err())

	assert.Equal(t, "v1", read(t, root, "docs/index.html"))
	assert.Equal(t, "v1 api", read(t, root, "docs/api/mod.html"))
	_, err = os.Stat(filepath.Join(root, "docs/api/new.html"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "docs/extra"))
	assert.True(t, os.IsNotExist(err))
}

func TestAbsentDirectoryRemovedOnRestore(t *testing.T) {
	root := t.TempDir()
	m := New(root, "")
	id, err := m.Create([]string{"docs"})
	require.NoError(t, err)

	write(t, root, "docs/index.html", "generated")
	require.True(t, m.Restore(id).Success)

	_, err = os.Stat(filepath.Join(root, "docs"))
	assert.True(t, os.IsNotExist(err))
}

func TestCaptureErrorDoesNotAbort(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root can read unreadable files")
	}
	root := t.TempDir()
	write(t, root, "ok.txt", "ok")
	write(t, root, "secret.txt", "secret")
	require.NoError(t, os.Chmod(filepath.Join(root, "secret.txt"), 0000))
	t.Cleanup(func() { os.Chmod(filepath.Join(root, "secret.txt"), 0644) })

	m := New(root, "")
	id, err := m.Create([]string{"secret.txt", "ok.txt"})
	require.NoError(t, err)

	b, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, KindError, b.Entries["secret.txt"].Kind)
	assert.Equal(t, KindFile, b.Entries["ok.txt"].Kind)

	write(t, root, "ok.txt", "changed")
	res := m.Restore(id)
	assert.False(t, res.Success)
	assert.Equal(t, "ok", read(t, root, "ok.txt"), "later files are restored after an earlier failure")
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, "secret.txt", res.Failed()[0].Path)
}

func TestRestoreUnknownID(t *testing.T) {
	m := New(t.TempDir(), "")
	res := m.Restore("nope")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), ErrNotFound)
}

func TestCleanup(t *testing.T) {
	root := t.TempDir()
	write(t, root, "VERSION", "1.0.0\n")
	m := New(root, "")
	id, err := m.Create([]string{"VERSION"})
	require.NoError(t, err)

	require.NoError(t, m.Cleanup(id))
	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Cleanup(id), ErrNotFound)
}

func TestPersistedSnapshotSurvivesNewManager(t *testing.T) {
	root := t.TempDir()
	store := filepath.Join(t.TempDir(), "backups")
	write(t, root, "VERSION", "1.0.0\n")

	id, err := New(root, store).Create([]string{"VERSION", "gone.txt"})
	require.NoError(t, err)
	write(t, root, "VERSION", "1.0.1\n")
	write(t, root, "gone.txt", "x")

	m := New(root, store)
	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	res := m.Restore(id)
	require.True(t, res.Success, res.Err())
	assert.Equal(t, "1.0.0\n", read(t, root, "VERSION"))

	require.NoError(t, m.Cleanup(id))
	list, err = m.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}
