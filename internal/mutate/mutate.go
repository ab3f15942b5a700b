// Package mutate rewrites version-bearing files. Each mutator is a pure
// function of the current bytes and the release data.
package mutate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/lyndonlyu/releasekit/internal/config"
)

var (
	ErrNoVersion        = errors.New("mutate: no version found")
	ErrNoMatch          = errors.New("mutate: pattern matched nothing")
	ErrDangerousPattern = errors.New("mutate: pattern too broad")
)

// Data is exposed to replacement templates as {{.Version}} and friends.
type Data struct {
	Version         string
	PreviousVersion string
	Tag             string
	Date            string
}

// Mutator returns the updated content of path.
type Mutator interface {
	Mutate(path string, content []byte, data Data) ([]byte, error)
}

// Func adapts a programmatic update function.
type Func func(content []byte, version string) ([]byte, error)

func (f Func) Mutate(path string, content []byte, data Data) ([]byte, error) {
	out, err := f(content, data.Version)
	if err != nil {
		return nil, fmt.Errorf("mutate: %s: %w", path, err)
	}
	return out, nil
}

// jsonVersionRe matches the first "version": "..." pair.
var jsonVersionRe = regexp.MustCompile(`("version"\s*:\s*")([^"]*)(")`)

// JSONVersion updates the top-level "version" key of a JSON manifest
// (deno.json, jsr.json, package.json) and keeps the rest of the text as is.
type JSONVersion struct{}

func (JSONVersion) Mutate(path string, content []byte, data Data) ([]byte, error) {
	if _, err := jsonVersion(content); err != nil {
		return nil, fmt.Errorf("mutate: %s: %w", path, err)
	}
	loc := jsonVersionRe.FindSubmatchIndex(content)
	if loc == nil {
		return nil, fmt.Errorf("mutate: %s: %w", path, ErrNoVersion)
	}
	var out bytes.Buffer
	out.Write(content[:loc[4]])
	out.WriteString(data.Version)
	out.Write(content[loc[5]:])
	return out.Bytes(), nil
}

func jsonVersion(content []byte) (string, error) {
	var doc struct {
		Version *string `json:"version"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	if doc.Version == nil {
		return "", ErrNoVersion
	}
	return *doc.Version, nil
}

// PlainVersion replaces the whole file with the version and a newline.
type PlainVersion struct{}

func (PlainVersion) Mutate(path string, content []byte, data Data) ([]byte, error) {
	return []byte(data.Version + "\n"), nil
}

// ForVersionFile picks the mutator for the primary version file by
// extension.
func ForVersionFile(path string) Mutator {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSONVersion{}
	}
	return PlainVersion{}
}

// ReadVersion extracts the current version from a version file.
func ReadVersion(path string, content []byte) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		v, err := jsonVersion(content)
		if err != nil {
			return "", fmt.Errorf("mutate: %s: %w", path, err)
		}
		return v, nil
	}
	v := strings.TrimSpace(string(content))
	if v == "" {
		return "", fmt.Errorf("mutate: %s: %w", path, ErrNoVersion)
	}
	return v, nil
}

type compiledPattern struct {
	re   *regexp.Regexp
	tmpl *template.Template
}

// Patterns applies regex replacements in order. Every pattern must match at
// least once.
type Patterns struct {
	patterns []compiledPattern
}

func NewPatterns(patterns []config.Pattern) (*Patterns, error) {
	if err := checkTarget(patterns); err != nil {
		return nil, err
	}
	p := &Patterns{}
	for _, pat := range patterns {
		if err := checkPattern(pat); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pat.Match)
		if err != nil {
			return nil, fmt.Errorf("mutate: compile %q: %w", pat.Match, err)
		}
		tmpl, err := template.New(pat.Match).Option("missingkey=error").Parse(pat.Replace)
		if err != nil {
			return nil, fmt.Errorf("mutate: parse replacement %q: %w", pat.Replace, err)
		}
		p.patterns = append(p.patterns, compiledPattern{re: re, tmpl: tmpl})
	}
	return p, nil
}

func (p *Patterns) Mutate(path string, content []byte, data Data) ([]byte, error) {
	out := content
	for _, cp := range p.patterns {
		if !cp.re.Match(out) {
			return nil, fmt.Errorf("mutate: %s: %w: %s", path, ErrNoMatch, cp.re)
		}
		var repl bytes.Buffer
		if err := cp.tmpl.Execute(&repl, data); err != nil {
			return nil, fmt.Errorf("mutate: %s: render: %w", path, err)
		}
		// Literal replacement; "$" in the rendered text is not a group ref.
		out = cp.re.ReplaceAllLiteral(out, repl.Bytes())
	}
	return out, nil
}

// ForTarget builds the mutator for a configured file target. A programmatic
// Update wins over patterns; no patterns means the target is a version file.
func ForTarget(t config.FileTarget) (Mutator, error) {
	if t.Update != nil {
		return Func(t.Update), nil
	}
	if len(t.Patterns) == 0 {
		return ForVersionFile(t.Path), nil
	}
	return NewPatterns(t.Patterns)
}

// broadPatterns match everything or nothing in particular.
var broadPatterns = map[string]bool{
	".*": true, ".+": true, "^": true, "$": true, "^.*$": true, "^.+$": true,
	`[\s\S]*`: true, `[\s\S]+`: true, "(.*)": true, "(.+)": true, `(?s).*`: true,
}

func checkPattern(p config.Pattern) error {
	match := strings.TrimSpace(p.Match)
	if match == "" || broadPatterns[match] {
		return fmt.Errorf("%w: %q", ErrDangerousPattern, p.Match)
	}
	re, err := regexp.Compile(match)
	if err != nil {
		return fmt.Errorf("mutate: compile %q: %w", p.Match, err)
	}
	if re.MatchString("") {
		return fmt.Errorf("%w: %q matches the empty string", ErrDangerousPattern, p.Match)
	}
	if !references(p.Replace, dataFields...) {
		return fmt.Errorf("%w: replacement %q references no release field", ErrDangerousPattern, p.Replace)
	}
	return nil
}

var (
	dataFields    = []string{".Version", ".PreviousVersion", ".Tag", ".Date"}
	versionFields = []string{".Version", ".Tag"}
)

func references(replace string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(replace, f) {
			return true
		}
	}
	return false
}

// checkTarget requires at least one pattern of a target to write the new
// version, so a target of date-only patterns is refused.
func checkTarget(patterns []config.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	for _, p := range patterns {
		if references(p.Replace, versionFields...) {
			return nil
		}
	}
	return fmt.Errorf("%w: no replacement has a {{.Version}} or {{.Tag}} placeholder", ErrDangerousPattern)
}

// ValidateTargets checks every configured pattern before anything is
// written.
func ValidateTargets(targets []config.FileTarget) error {
	var errs []error
	for _, t := range targets {
		if t.Update == nil {
			if err := checkTarget(t.Patterns); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.Path, err))
			}
		}
		for _, p := range t.Patterns {
			if err := checkPattern(p); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.Path, err))
			}
		}
	}
	return errors.Join(errs...)
}
