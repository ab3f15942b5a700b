package mutate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/releasekit/internal/config"
)

var data = Data{Version: "1.0.1", PreviousVersion: "1.0.0", Tag: "v1.0.1", Date: "2026-10-15"}

func TestJSONVersionKeepsFormatting(t *testing.T) {
	in := "{\n  \"name\": \"@scope/name\",\n  \"version\": \"1.0.0\",\n  \"exports\": \"./mod.ts\"\n}\n"
	out, err := JSONVersion{}.Mutate("deno.json", []byte(in), data)
	require.NoError(t, err)
	assert.Equal(t, strings.Replace(in, "1.0.0", "1.0.1", 1), string(out))
}

func TestJSONVersionMissingKey(t *testing.T) {
	_, err := JSONVersion{}.Mutate("deno.json", []byte(`{"name": "x"}`), data)
	assert.ErrorIs(t, err, ErrNoVersion)

	_, err = JSONVersion{}.Mutate("deno.json", []byte(`{not json`), data)
	assert.Error(t, err)
}

func TestReadVersion(t *testing.T) {
	v, err := ReadVersion("deno.json", []byte(`{"version": "2.3.4"}`))
	require.NoError(t, err)
	assert.Equal(t, "2.3.4", v)

	v, err = ReadVersion("VERSION", []byte("0.9.0\n"))
	require.NoError(t, err)
	assert.Equal(t, "0.9.0", v)

	_, err = ReadVersion("VERSION", []byte("  \n"))
	assert.ErrorIs(t, err, ErrNoVersion)
}

func TestForVersionFile(t *testing.T) {
	assert.IsType(t, JSONVersion{}, ForVersionFile("jsr.json"))
	assert.IsType(t, PlainVersion{}, ForVersionFile("VERSION"))

	out, err := PlainVersion{}.Mutate("VERSION", []byte("1.0.0\n"), data)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1\n", string(out))
}

func TestPatterns(t *testing.T) {
	p, err := NewPatterns([]config.Pattern{
		{Match: `@scope/name@\d+\.\d+\.\d+`, Replace: `@scope/name@{{.Version}}`},
		{Match: `Released: \S+`, Replace: `Released: {{.Date}}`},
	})
	require.NoError(t, err)

	in := "import x from \"jsr:@scope/name@1.0.0\";\nReleased: 2026-01-01\n"
	out, err := p.Mutate("README.md", []byte(in), data)
	require.NoError(t, err)
	assert.Equal(t, "import x from \"jsr:@scope/name@1.0.1\";\nReleased: 2026-10-15\n", string(out))
}

func TestPatternsNoMatch(t *testing.T) {
	p, err := NewPatterns([]config.Pattern{{Match: `v\d+\.\d+\.\d+`, Replace: `v{{.Version}}`}})
	require.NoError(t, err)
	_, err = p.Mutate("README.md", []byte("nothing here"), data)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestPatternsReplacementIsLiteral(t *testing.T) {
	p, err := NewPatterns([]config.Pattern{{Match: `cost \d+`, Replace: `cost $1 {{.Version}}`}})
	require.NoError(t, err)
	out, err := p.Mutate("x", []byte("cost 5"), data)
	require.NoError(t, err)
	assert.Equal(t, "cost $1 1.0.1", string(out))
}

func TestDangerousPatternsRejected(t *testing.T) {
	for _, match := range []string{"", ".*", ".+", "^", "$", `[\s\S]*`, `a*`, "(.*)"} {
		t.Run(match, func(t *testing.T) {
			err := ValidateTargets([]config.FileTarget{{
				Path:     "README.md",
				Patterns: []config.Pattern{{Match: match, Replace: "{{.Version}}"}},
			}})
			assert.ErrorIs(t, err, ErrDangerousPattern)
		})
	}
}

func TestReplacementWithoutVersionRejected(t *testing.T) {
	err := ValidateTargets([]config.FileTarget{{
		Path:     "README.md",
		Patterns: []config.Pattern{{Match: `v\d+`, Replace: "v2"}},
	}})
	assert.ErrorIs(t, err, ErrDangerousPattern)
}

func TestReplacementFieldsAccepted(t *testing.T) {
	err := ValidateTargets([]config.FileTarget{{
		Path: "README.md",
		Patterns: []config.Pattern{
			{Match: `tag: v\d+\.\d+\.\d+`, Replace: "tag: {{.Tag}}"},
			{Match: `since \d+\.\d+\.\d+`, Replace: "since {{.PreviousVersion}}"},
			{Match: `Released: \S+`, Replace: "Released: {{.Date}}"},
		},
	}})
	assert.NoError(t, err)

	p, err := NewPatterns([]config.Pattern{{Match: `tag: v\d+\.\d+\.\d+`, Replace: "tag: {{.Tag}}"}})
	require.NoError(t, err)
	out, err := p.Mutate("README.md", []byte("tag: v1.0.0"), data)
	require.NoError(t, err)
	assert.Equal(t, "tag: "+data.Tag, string(out))
}

func TestTargetWithoutVersionFieldRejected(t *testing.T) {
	patterns := []config.Pattern{{Match: `Released: \S+`, Replace: "Released: {{.Date}}"}}

	err := ValidateTargets([]config.FileTarget{{Path: "README.md", Patterns: patterns}})
	assert.ErrorIs(t, err, ErrDangerousPattern)

	_, err = NewPatterns(patterns)
	assert.ErrorIs(t, err, ErrDangerousPattern)
}

func TestForTargetPrefersUpdate(t *testing.T) {
	m, err := ForTarget(config.FileTarget{
		Path:     "x.txt",
		Patterns: []config.Pattern{{Match: ".*", Replace: "bad"}},
		Update: func(content []byte, version string) ([]byte, error) {
			return []byte("v=" + version), nil
		},
	})
	require.NoError(t, err)
	out, err := m.Mutate("x.txt", nil, data)
	require.NoError(t, err)
	assert.Equal(t, "v=1.0.1", string(out))
}

func TestPreviewDiff(t *testing.T) {
	p := Preview{Path: "VERSION", Before: "1.0.0\n", After: "1.0.1\n"}
	d := p.Diff()
	assert.Contains(t, d, "--- a/VERSION")
	assert.Contains(t, d, "+++ b/VERSION")
	assert.Contains(t, d, "-1.0.0")
	assert.Contains(t, d, "+1.0.1")
	assert.True(t, p.Changed())

	same := Preview{Path: "x", Before: "a\n", After: "a\n"}
	assert.Empty(t, same.Diff())
	assert.False(t, same.Changed())
}
