package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Run outcomes written by Journal.Finish.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeRolledBack = "rolled_back"
	OutcomeFailed     = "failed"
)

// JournalEntry is one line of the journal. Operation lines carry OpID; the
// closing line carries Outcome.
type JournalEntry struct {
	RunID       string          `json:"run_id"`
	OpID        string          `json:"op_id,omitempty"`
	Type        Type            `json:"type,omitempty"`
	State       State           `json:"state,omitempty"`
	Description string          `json:"description,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	Error       string          `json:"error,omitempty"`
	Outcome     string          `json:"outcome,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

// Journal is an fsynced JSONL file of operation transitions for one run, so
// a crashed release can be inspected afterwards.
type Journal struct {
	path  string
	runID string
	mu    sync.Mutex
}

func OpenJournal(dir, runID string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: journal dir: %w", err)
	}
	return &Journal{path: filepath.Join(dir, runID+".jsonl"), runID: runID}, nil
}

func (j *Journal) Path() string { return j.path }

func (j *Journal) Append(op Operation) error {
	detail, err := json.Marshal(op.Detail)
	if err != nil {
		return err
	}
	return j.write(JournalEntry{
		RunID:       j.runID,
		OpID:        op.ID,
		Type:        op.Type(),
		State:       op.State,
		Description: op.Description,
		Detail:      detail,
		Error:       op.Err,
		Timestamp:   op.UpdatedAt.Format(time.RFC3339Nano),
	})
}

// Finish closes the run with its outcome.
func (j *Journal) Finish(outcome string) error {
	return j.write(JournalEntry{
		RunID:     j.runID,
		Outcome:   outcome,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (j *Journal) write(e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadJournal returns every entry of a journal file. A torn last line from a
// crash mid-write is ignored.
func ReadJournal(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Recovery is the reconstructed state of one journaled run.
type Recovery struct {
	RunID   string
	Path    string
	Outcome string
	// Orphans are operations whose effect may still be live: left in
	// progress, or completed but never rolled back in a run that did not
	// succeed.
	Orphans []Operation
}

func (r Recovery) Finished() bool { return r.Outcome != "" }

// Reconcile replays a journal and reports orphaned operations.
func Reconcile(path string) (Recovery, error) {
	entries, err := ReadJournal(path)
	if err != nil {
		return Recovery{}, err
	}
	rec := Recovery{Path: path}

	var order []string
	latest := make(map[string]JournalEntry)
	for _, e := range entries {
		rec.RunID = e.RunID
		if e.Outcome != "" {
			rec.Outcome = e.Outcome
			continue
		}
		if _, seen := latest[e.OpID]; !seen {
			order = append(order, e.OpID)
		}
		latest[e.OpID] = e
	}
	if rec.Outcome == OutcomeSucceeded {
		return rec, nil
	}

	for _, id := range order {
		e := latest[id]
		if e.State != StateInProgress && e.State != StateCompleted {
			continue
		}
		detail, err := decodeDetail(e.Type, e.Detail)
		if err != nil {
			return rec, err
		}
		ts, _ := time.Parse(time.RFC3339Nano, e.Timestamp)
		rec.Orphans = append(rec.Orphans, Operation{
			ID:          e.OpID,
			Detail:      detail,
			State:       e.State,
			Description: e.Description,
			UpdatedAt:   ts,
			Err:         e.Error,
		})
	}
	return rec, nil
}

// ReconcileDir reconciles every journal in dir, oldest file name first.
func ReconcileDir(dir string) ([]Recovery, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Recovery
	for _, n := range names {
		rec, err := Reconcile(filepath.Join(dir, n))
		if err != nil {
			return out, fmt.Errorf("ledger: reconcile %s: %w", n, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Restore rebuilds a ledger from orphaned operations so they can be rolled
// back. Custom rollback functions do not survive a crash; the built-in undo
// is used.
func Restore(orphans []Operation, opts ...Option) *Ledger {
	l := New(opts...)
	for _, o := range orphans {
		op := o
		op.State = StateCompleted
		l.ops = append(l.ops, &op)
		l.index[op.ID] = &op
	}
	return l
}
