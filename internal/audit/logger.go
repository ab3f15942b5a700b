// Package audit keeps a tamper-evident, hash-chained JSONL trail of release
// events, one file per day.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyndonlyu/releasekit/internal/redact"
)

// Event names a release milestone.
type Event string

const (
	EventReleaseStarted         Event = "release_started"
	EventFilesUpdated           Event = "files_updated"
	EventGitOperationsCompleted Event = "git_operations_completed"
	EventReleaseCompleted       Event = "release_completed"
	EventReleaseFailed          Event = "release_failed"
	EventBackupRestoreFailed    Event = "backup_restore_failed"
	EventRollbackCompleted      Event = "rollback_completed"
	EventRollbackFailed         Event = "rollback_failed"
	EventAutoFixApplied         Event = "autofix_applied"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// dateFileRe matches audit log files named YYYY-MM-DD.jsonl
var dateFileRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

func auditFiles(dir string) ([]string, error) {
	all, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	var filtered []string
	for _, f := range all {
		if dateFileRe.MatchString(filepath.Base(f)) {
			filtered = append(filtered, f)
		}
	}
	sort.Strings(filtered)
	return filtered, nil
}

type Entry struct {
	Event    Event
	RunID    string
	Version  string
	Severity Severity
	Message  string
	Error    string
	Duration time.Duration
	Fields   map[string]string
}

type Record struct {
	Timestamp  string            `json:"timestamp"`
	EventID    string            `json:"event_id"`
	RunID      string            `json:"run_id"`
	Event      Event             `json:"event"`
	Severity   Severity          `json:"severity"`
	Version    string            `json:"version,omitempty"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	PrevHash   string            `json:"prev_hash,omitempty"`
	Hash       string            `json:"hash,omitempty"`
}

// Sink receives audit entries.
type Sink interface {
	Log(entry Entry) error
}

type Logger struct {
	dir      string
	mu       sync.Mutex
	lastHash string
	redactor *redact.Redactor
	now      func() time.Time
}

func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	l := &Logger{dir: dir, now: time.Now}
	l.initLastHash()
	return l, nil
}

func (l *Logger) initLastHash() {
	files, err := auditFiles(l.dir)
	if err != nil || len(files) == 0 {
		return
	}
	data, err := os.ReadFile(files[len(files)-1])
	if err != nil {
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}
	lines := strings.Split(content, "\n")
	var r Record
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &r); err != nil {
		return
	}
	l.lastHash = r.Hash
}

func (l *Logger) SetRedactor(r *redact.Redactor) {
	l.redactor = r
}

func computeHash(r Record) string {
	r.Hash = ""
	data, _ := json.Marshal(r)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	sev := entry.Severity
	if sev == "" {
		sev = SeverityInfo
	}
	record := Record{
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		EventID:    uuid.New().String(),
		RunID:      entry.RunID,
		Event:      entry.Event,
		Severity:   sev,
		Version:    entry.Version,
		Message:    entry.Message,
		Error:      entry.Error,
		DurationMs: entry.Duration.Milliseconds(),
		PrevHash:   l.lastHash,
	}
	if len(entry.Fields) > 0 {
		record.Fields = make(map[string]string, len(entry.Fields))
		for k, v := range entry.Fields {
			record.Fields[k] = v
		}
	}
	// Redact sensitive data before hashing
	if l.redactor != nil {
		record.Message = l.redactor.Redact(record.Message)
		record.Error = l.redactor.Redact(record.Error)
		for k, v := range record.Fields {
			record.Fields[k] = l.redactor.Redact(v)
		}
	}
	record.Hash = computeHash(record)

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := filepath.Join(l.dir, now.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	l.lastHash = record.Hash
	return nil
}

// Recent returns up to n records, newest first.
func (l *Logger) Recent(n int) ([]Record, error) {
	files, err := auditFiles(l.dir)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	var records []Record
	for _, f := range files {
		if len(records) >= n {
			break
		}
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if len(records) >= n {
				break
			}
			var r Record
			if err := json.Unmarshal([]byte(lines[i]), &r); err != nil {
				continue
			}
			records = append(records, r)
		}
	}
	return records, nil
}

// ForRun returns the records of one release run, oldest first.
func (l *Logger) ForRun(runID string) ([]Record, error) {
	files, err := auditFiles(l.dir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, f := range files {
		records, err := readRecords(f)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.RunID == runID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// Verify walks the chain across all files. It returns false and the index of
// the first broken record when the chain does not hold.
func (l *Logger) Verify() (bool, int, error) {
	files, err := auditFiles(l.dir)
	if err != nil {
		return false, -1, err
	}

	var expectedPrevHash string
	index := 0
	for _, f := range files {
		records, err := readRecords(f)
		if err != nil {
			return false, -1, err
		}
		for _, r := range records {
			if computeHash(r) != r.Hash {
				return false, index, nil
			}
			if r.PrevHash != expectedPrevHash {
				return false, index, nil
			}
			expectedPrevHash = r.Hash
			index++
		}
	}
	return true, -1, nil
}

func readRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}
	var records []Record
	for _, line := range strings.Split(content, "\n") {
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, fmt.Errorf("parse audit record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (l *Logger) Dir() string {
	return l.dir
}
