package changelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lyndonlyu/releasekit/internal/version"
)

func commits(msgs ...string) []version.Commit {
	out := make([]version.Commit, len(msgs))
	for i, m := range msgs {
		out[i] = version.ParseCommit("abcdef1234567", m)
	}
	return out
}

func TestNotesCategorized(t *testing.T) {
	notes := Notes(commits(
		"feat(api)!: drop v1 endpoints",
		"feat: add retries",
		"fix: handle empty body",
		"docs: update readme",
		"chore(release): 1.0.0",
	))

	assert.Equal(t, `### Breaking Changes

- **api:** drop v1 endpoints (abcdef1)

### Features

- add retries (abcdef1)

### Bug Fixes

- handle empty body (abcdef1)

### Other

- docs: update readme (abcdef1)
`, notes)
}

func TestNotesOtherUsesDescriptionForNonConventional(t *testing.T) {
	notes := Notes(commits("Merge branch 'x'"))
	assert.Contains(t, notes, "### Other")
	assert.Contains(t, notes, "- Merge branch 'x' (abcdef1)")
}

func TestNotesEmpty(t *testing.T) {
	assert.Equal(t, "No notable changes.\n", Notes(nil))
}

func TestEntryHeader(t *testing.T) {
	e := Entry(Release{
		Version: "1.0.1",
		Date:    time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		Commits: commits("fix: x"),
	})
	assert.Contains(t, e, "## [1.0.1] - 2026-10-15\n\n### Bug Fixes")
}

func TestPrepend(t *testing.T) {
	entry := "## [1.0.1] - 2026-10-15\n\n### Bug Fixes\n\n- x\n"

	t.Run("empty file", func(t *testing.T) {
		out := string(Prepend(nil, entry))
		assert.Equal(t, "# Changelog\n\n"+entry, out)
	})

	t.Run("title and older entry", func(t *testing.T) {
		existing := "# Changelog\n\nAll notable changes.\n\n## [1.0.0] - 2026-01-01\n\n- init\n"
		out := string(Prepend([]byte(existing), entry))
		assert.Equal(t, "# Changelog\n\nAll notable changes.\n\n"+entry+"\n## [1.0.0] - 2026-01-01\n\n- init\n", out)
	})

	t.Run("starts with entry", func(t *testing.T) {
		existing := "## [1.0.0] - 2026-01-01\n"
		out := string(Prepend([]byte(existing), entry))
		assert.Equal(t, entry+"\n"+existing, out)
	})

	t.Run("title only", func(t *testing.T) {
		out := string(Prepend([]byte("# Changelog\n"), entry))
		assert.Equal(t, "# Changelog\n\n"+entry, out)
	})
}
