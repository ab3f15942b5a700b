package autofix

import (
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies a CI failure line.
type ErrorKind string

const (
	KindFormat    ErrorKind = "format"
	KindLint      ErrorKind = "lint"
	KindTypecheck ErrorKind = "typecheck"
	KindTest      ErrorKind = "test"
	KindUnknown   ErrorKind = "unknown"
)

// CIError is one problem extracted from a job log.
type CIError struct {
	Kind    ErrorKind
	File    string
	Line    int
	Message string
}

var (
	locationRe  = regexp.MustCompile(`(?:file://)?((?:[\w@.-]+/)*[\w@.-]+\.(?:ts|tsx|js|jsx|mjs|cjs|json|md|go|py|rs)):(\d+)(?::\d+)?`)
	typeErrRe   = regexp.MustCompile(`\bTS\d{4}\b|type error|is not assignable to`)
	lintRe      = regexp.MustCompile(`\((?:[a-z]+-)+[a-z]+\)|\blint\b|\s(?:[a-z]+-)+[a-z]+$`)
	formatRe    = regexp.MustCompile(`not formatted|Found \d+ not formatted|fmt --check|would reformat|needs formatting`)
	testFailRe  = regexp.MustCompile(`FAILED|FAIL:|AssertionError|--- FAIL`)
	errorLineRe = regexp.MustCompile(`(?i)^(error|\[error\]|fail|failed)\b`)
)

// ParseCIErrors extracts classified problems from a job log. Lines that look
// like errors but cannot be classified come back as KindUnknown.
func ParseCIErrors(log string) []CIError {
	var out []CIError
	seen := make(map[string]bool)
	lines := strings.Split(log, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		kind := classify(line)
		if kind == "" && !errorLineRe.MatchString(line) {
			continue
		}
		if kind == "" {
			kind = KindUnknown
		}

		e := CIError{Kind: kind, Message: line}
		// The location is often on the same line or the next one ("at ...").
		for _, cand := range []string{line, next(lines, i)} {
			if m := locationRe.FindStringSubmatch(cand); m != nil {
				e.File = trimWorkspace(m[1])
				e.Line, _ = strconv.Atoi(m[2])
				break
			}
		}
		key := string(e.Kind) + e.File + strconv.Itoa(e.Line) + e.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func classify(line string) ErrorKind {
	switch {
	case formatRe.MatchString(line):
		return KindFormat
	case typeErrRe.MatchString(line):
		return KindTypecheck
	case testFailRe.MatchString(line):
		return KindTest
	case lintRe.MatchString(line):
		return KindLint
	}
	return ""
}

func next(lines []string, i int) string {
	if i+1 < len(lines) {
		return strings.TrimSpace(lines[i+1])
	}
	return ""
}

// trimWorkspace strips the runner checkout prefix
// (/home/runner/work/<repo>/<repo>/).
func trimWorkspace(p string) string {
	const marker = "/work/"
	if i := strings.Index(p, marker); i >= 0 {
		rest := p[i+len(marker):]
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return strings.TrimPrefix(p, "./")
}

// Kinds returns the distinct kinds present, in first-seen order.
func Kinds(errs []CIError) []ErrorKind {
	var out []ErrorKind
	seen := make(map[ErrorKind]bool)
	for _, e := range errs {
		if !seen[e.Kind] {
			seen[e.Kind] = true
			out = append(out, e.Kind)
		}
	}
	return out
}

// Files returns the distinct files referenced, in first-seen order.
func Files(errs []CIError) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range errs {
		if e.File != "" && !seen[e.File] {
			seen[e.File] = true
			out = append(out, e.File)
		}
	}
	return out
}
