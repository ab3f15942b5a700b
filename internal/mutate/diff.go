package mutate

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Preview is one planned file change.
type Preview struct {
	Path   string
	Before string
	After  string
}

// Diff renders the change as a unified diff with three lines of context.
// An unchanged file yields an empty string.
func (p Preview) Diff() string {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(p.Before),
		B:        difflib.SplitLines(p.After),
		FromFile: "a/" + p.Path,
		ToFile:   "b/" + p.Path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return out
}

// Changed reports whether the preview modifies the file.
func (p Preview) Changed() bool { return p.Before != p.After }
