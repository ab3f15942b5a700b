package history

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatRunList renders runs as a table. Returns "No releases recorded.\n"
// for an empty slice.
func FormatRunList(runs []Run) string {
	if len(runs) == 0 {
		return "No releases recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %-12s %-10s %-10s %-9s %-22s\n", "ID", "STATUS", "FROM", "TO", "ROLLBACK", "STARTED")
	for _, r := range runs {
		fmt.Fprintf(&b, "%-28s %-12s %-10s %-10s %-9s %-22s\n",
			r.ID, r.Status, dash(r.PreviousVersion), dash(r.Version), dash(r.RollbackQuality), r.StartedAt)
	}
	return b.String()
}

// FormatOperations renders the operations of one run.
func FormatOperations(ops []Operation) string {
	if len(ops) == 0 {
		return "No operations.\n"
	}
	var b strings.Builder
	for _, op := range ops {
		fmt.Fprintf(&b, "%3d  %-15s %-12s %s", op.Seq, op.Type, op.State, op.Description)
		if op.Error != "" {
			fmt.Fprintf(&b, " (%s)", op.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func FormatRunListJSON(runs []Run) (string, error) {
	if runs == nil {
		runs = []Run{}
	}
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("history: json marshal: %w", err)
	}
	return string(data), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
