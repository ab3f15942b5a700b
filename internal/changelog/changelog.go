// Package changelog renders release notes from classified commits and
// prepends them to a keep-a-changelog style file.
package changelog

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/lyndonlyu/releasekit/internal/version"
)

const title = "# Changelog"

// Section headings, in render order.
const (
	SectionBreaking = "Breaking Changes"
	SectionFeatures = "Features"
	SectionFixes    = "Bug Fixes"
	SectionOther    = "Other"
)

var sectionOrder = []string{SectionBreaking, SectionFeatures, SectionFixes, SectionOther}

// Release is the input for one changelog entry.
type Release struct {
	Version string
	Date    time.Time
	Commits []version.Commit
}

// Group buckets commits by section. Breaking commits appear only under
// Breaking Changes. Release commits (chore(release)) are dropped.
func Group(commits []version.Commit) map[string][]version.Commit {
	groups := make(map[string][]version.Commit)
	for _, c := range commits {
		if c.Type == "chore" && c.Scope == "release" {
			continue
		}
		switch {
		case c.Breaking:
			groups[SectionBreaking] = append(groups[SectionBreaking], c)
		case c.Type == "feat":
			groups[SectionFeatures] = append(groups[SectionFeatures], c)
		case c.Type == "fix":
			groups[SectionFixes] = append(groups[SectionFixes], c)
		default:
			groups[SectionOther] = append(groups[SectionOther], c)
		}
	}
	return groups
}

// Notes renders the categorized body used for both the changelog entry and
// the GitHub release.
func Notes(commits []version.Commit) string {
	groups := Group(commits)
	var b strings.Builder
	for _, name := range sectionOrder {
		list := groups[name]
		if len(list) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s\n\n", name)
		for _, c := range list {
			b.WriteString("- ")
			b.WriteString(line(c, name))
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return "No notable changes.\n"
	}
	return b.String()
}

func line(c version.Commit, section string) string {
	text := c.Description
	if c.Scope != "" {
		text = fmt.Sprintf("**%s:** %s", c.Scope, text)
	}
	if section == SectionOther && c.Type != "other" {
		text = c.Type + ": " + text
	}
	if section == SectionBreaking && c.BreakingNote != "" {
		text += " (" + c.BreakingNote + ")"
	}
	if c.Hash != "" {
		text += fmt.Sprintf(" (%s)", short(c.Hash))
	}
	return text
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// Entry renders the full "## [x.y.z] - date" section.
func Entry(r Release) string {
	return fmt.Sprintf("## [%s] - %s\n\n%s", r.Version, r.Date.Format("2006-01-02"), Notes(r.Commits))
}

// Prepend inserts entry above the newest existing entry, keeping any title
// and preamble at the top. An empty file gets a title.
func Prepend(existing []byte, entry string) []byte {
	entry = strings.TrimRight(entry, "\n") + "\n"
	if len(bytes.TrimSpace(existing)) == 0 {
		return []byte(title + "\n\n" + entry)
	}

	content := string(existing)
	idx := strings.Index(content, "\n## ")
	if strings.HasPrefix(content, "## ") {
		idx = 0
	} else if idx >= 0 {
		idx++
	}

	if idx < 0 {
		return []byte(strings.TrimRight(content, "\n") + "\n\n" + entry)
	}
	return []byte(content[:idx] + entry + "\n" + content[idx:])
}
