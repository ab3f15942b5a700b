package pipeline

import (
	"fmt"
	"strings"
)

// PreviewMarkdown renders a dry-run result as markdown: the version change,
// the release notes and a unified diff per planned file.
func PreviewMarkdown(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Release %s\n\n", res.Tag)
	fmt.Fprintf(&b, "`%s` → `%s` (%s bump, %d commits)\n\n", res.PreviousVersion, res.Version, res.Bump, res.CommitCount)
	b.WriteString("## Release notes\n\n")
	b.WriteString(strings.TrimRight(res.Notes, "\n"))
	b.WriteString("\n\n## Planned changes\n\n")
	changed := 0
	for _, p := range res.Preview {
		if !p.Changed() {
			continue
		}
		changed++
		fmt.Fprintf(&b, "### %s\n\n```diff\n%s\n```\n\n", p.Path, strings.TrimRight(p.Diff(), "\n"))
	}
	if changed == 0 {
		b.WriteString("No file changes.\n")
	}
	return b.String()
}
