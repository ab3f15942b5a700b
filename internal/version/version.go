// Package version computes the next release version from conventional
// commit history.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Bump is a semantic version increment.
type Bump string

const (
	BumpNone  Bump = ""
	BumpPatch Bump = "patch"
	BumpMinor Bump = "minor"
	BumpMajor Bump = "major"
)

// ParseBump validates a user-supplied bump type. Empty input yields BumpNone.
func ParseBump(s string) (Bump, error) {
	switch b := Bump(strings.ToLower(strings.TrimSpace(s))); b {
	case BumpNone, BumpPatch, BumpMinor, BumpMajor:
		return b, nil
	default:
		return BumpNone, fmt.Errorf("version: unknown bump type %q (want major, minor or patch)", s)
	}
}

// Version is a parsed MAJOR.MINOR.PATCH[-PRERELEASE] version.
type Version struct {
	Major, Minor, Patch int
	Prerelease          string
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Parse accepts "1.2.3", "v1.2.3" and "1.2.3-rc.1". Build metadata is
// dropped.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	canonical := raw
	if !strings.HasPrefix(canonical, "v") {
		canonical = "v" + canonical
	}
	if !semver.IsValid(canonical) {
		return Version{}, fmt.Errorf("version: invalid semantic version %q", s)
	}
	canonical = semver.Canonical(canonical)

	pre := strings.TrimPrefix(semver.Prerelease(canonical), "-")
	core := strings.TrimPrefix(strings.TrimSuffix(canonical, semver.Prerelease(canonical)), "v")
	parts := strings.SplitN(core, ".", 3)
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("version: invalid semantic version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("version: invalid component %q in %q", p, s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Prerelease: pre}, nil
}

// Increment applies b. A prerelease is promoted to its release version by a
// patch bump (1.2.0-rc.1 -> 1.2.0) as well as the usual increments.
func (v Version) Increment(b Bump) Version {
	next := Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
	switch b {
	case BumpMajor:
		if !(v.Prerelease != "" && v.Minor == 0 && v.Patch == 0) {
			next.Major++
		}
		next.Minor, next.Patch = 0, 0
	case BumpMinor:
		if !(v.Prerelease != "" && v.Patch == 0) {
			next.Minor++
		}
		next.Patch = 0
	case BumpPatch:
		if v.Prerelease == "" {
			next.Patch++
		}
	}
	return next
}

// Compare orders two versions using semver precedence.
func Compare(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// SortTags sorts version tags (with the given prefix) in descending semver
// order, dropping any that do not parse.
func SortTags(tags []string, prefix string) []string {
	var valid []string
	for _, t := range tags {
		if !strings.HasPrefix(t, prefix) {
			continue
		}
		if semver.IsValid(canonical(strings.TrimPrefix(t, prefix))) {
			valid = append(valid, t)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return Compare(strings.TrimPrefix(valid[i], prefix), strings.TrimPrefix(valid[j], prefix)) > 0
	})
	return valid
}

func canonical(s string) string {
	if !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// conventionalRe matches "type(scope)!: description".
var conventionalRe = regexp.MustCompile(`^(\w+)(?:\(([^)]*)\))?(!)?:\s*(.+)$`)

var breakingFooterRe = regexp.MustCompile(`(?m)^BREAKING[ -]CHANGE:\s*(.+)$`)

// Commit is a classified commit.
type Commit struct {
	Hash        string `json:"hash"`
	Type        string `json:"type"`
	Scope       string `json:"scope,omitempty"`
	Description string `json:"description"`
	Breaking    bool   `json:"breaking"`
	// BreakingNote is the BREAKING CHANGE footer text, when present.
	BreakingNote string `json:"breaking_note,omitempty"`
}

// ParseCommit classifies a commit message. Messages that do not follow the
// convention get type "other" and the subject as description.
func ParseCommit(hash, message string) Commit {
	subject, body, _ := strings.Cut(strings.TrimSpace(message), "\n")
	c := Commit{Hash: hash, Type: "other", Description: strings.TrimSpace(subject)}

	if m := conventionalRe.FindStringSubmatch(strings.TrimSpace(subject)); m != nil {
		c.Type = strings.ToLower(m[1])
		c.Scope = m[2]
		c.Breaking = m[3] == "!"
		c.Description = strings.TrimSpace(m[4])
	}
	if m := breakingFooterRe.FindStringSubmatch(body); m != nil {
		c.Breaking = true
		c.BreakingNote = strings.TrimSpace(m[1])
	}
	return c
}

// DetermineBump picks the increment implied by commits: any breaking change
// is major, otherwise any feature is minor, otherwise patch. It returns
// BumpNone for an empty list.
func DetermineBump(commits []Commit) Bump {
	if len(commits) == 0 {
		return BumpNone
	}
	bump := BumpPatch
	for _, c := range commits {
		if c.Breaking {
			return BumpMajor
		}
		if c.Type == "feat" {
			bump = BumpMinor
		}
	}
	return bump
}

// Next computes the next version. An explicit bump always overrides the
// commit-derived one. It fails when there is nothing to release.
func Next(current string, commits []Commit, explicit Bump) (string, Bump, error) {
	v, err := Parse(current)
	if err != nil {
		return "", BumpNone, err
	}
	bump := explicit
	if bump == BumpNone {
		bump = DetermineBump(commits)
	}
	if bump == BumpNone {
		return "", BumpNone, fmt.Errorf("version: no commits since last release")
	}
	return v.Increment(bump).String(), bump, nil
}
