package preflight

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatResult returns a human-readable summary of a validation run.
func FormatResult(result Result) string {
	var b strings.Builder
	b.WriteString("Preflight:\n\n")
	for _, r := range result.Results {
		tag := "[PASS]"
		if !r.Passed {
			tag = "[FAIL]"
		}
		fmt.Fprintf(&b, "  %s %s (%s)\n", tag, r.Name, r.Duration.Round(1e6))
	}
	b.WriteString("\n")
	if result.Success {
		fmt.Fprintf(&b, "Result: ALL PASSED (%s)\n", result.Duration.Round(1e6))
		return b.String()
	}
	fmt.Fprintf(&b, "Result: FAILED at %s\n", result.FailedCheck)
	if result.Command != "" {
		fmt.Fprintf(&b, "Command: %s\n", result.Command)
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "\n%s\n", Tail(result.Error, 20))
	}
	if result.Suggestion != "" {
		fmt.Fprintf(&b, "\nSuggestion: %s\n", result.Suggestion)
	}
	return b.String()
}

// FormatResultJSON returns the result as indented JSON.
func FormatResultJSON(result Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("preflight: json marshal: %w", err)
	}
	return string(data), nil
}
