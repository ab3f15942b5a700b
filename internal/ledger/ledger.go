// Package ledger records every side effect of a release in order and undoes
// them in reverse, verifying each undo against the real system.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// State is an operation's lifecycle position.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateRolledBack State = "rolled_back"
)

var (
	ErrUnknownOperation  = errors.New("ledger: unknown operation")
	ErrInvalidTransition = errors.New("ledger: invalid state transition")
	ErrDetailMismatch    = errors.New("ledger: detail type mismatch")
)

// RollbackFunc replaces the built-in undo for one operation. The ledger still
// verifies the result afterwards.
type RollbackFunc func(ctx context.Context, op Operation) error

type Operation struct {
	ID          string
	Detail      Detail
	State       State
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Err         string

	rollback RollbackFunc
}

func (o Operation) Type() Type { return o.Detail.Type() }

// Ledger is append-only: operations are never reordered or removed.
type Ledger struct {
	mu    sync.Mutex
	ops   []*Operation
	index map[string]*Operation

	git      GitSystem
	releases ReleaseSystem
	journal  *Journal
	logger   *log.Logger
	now      func() time.Time
}

type Option func(*Ledger)

func WithGit(g GitSystem) Option {
	return func(l *Ledger) { l.git = g }
}

func WithReleases(r ReleaseSystem) Option {
	return func(l *Ledger) { l.releases = r }
}

// WithJournal mirrors every transition to a durable journal.
func WithJournal(j *Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

func WithLogger(logger *log.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		index: make(map[string]*Operation),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = log.New(io.Discard)
	}
	return l
}

// Track appends a pending operation and returns its ID.
func (l *Ledger) Track(detail Detail, description string, rollback RollbackFunc) string {
	l.mu.Lock()
	now := l.now()
	op := &Operation{
		ID:          uuid.New().String(),
		Detail:      detail,
		State:       StatePending,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		rollback:    rollback,
	}
	l.ops = append(l.ops, op)
	l.index[op.ID] = op
	snapshot := *op
	l.mu.Unlock()

	l.record(snapshot)
	return op.ID
}

func (l *Ledger) MarkInProgress(id string) error {
	return l.transition(id, StateInProgress, nil, "", StatePending)
}

// MarkCompleted finishes an operation. A non-nil detail replaces the tracked
// one, carrying values only known after the action ran (e.g. a commit hash).
func (l *Ledger) MarkCompleted(id string, detail Detail) error {
	return l.transition(id, StateCompleted, detail, "", StatePending, StateInProgress)
}

func (l *Ledger) MarkFailed(id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.transition(id, StateFailed, nil, msg, StatePending, StateInProgress)
}

func (l *Ledger) transition(id string, to State, detail Detail, errMsg string, from ...State) error {
	l.mu.Lock()
	op, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOperation, id)
	}
	allowed := false
	for _, s := range from {
		if op.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, op.State, to)
	}
	if detail != nil {
		if detail.Type() != op.Detail.Type() {
			l.mu.Unlock()
			return fmt.Errorf("%w: %s is %s, got %s", ErrDetailMismatch, id, op.Detail.Type(), detail.Type())
		}
		op.Detail = detail
	}
	op.State = to
	op.Err = errMsg
	op.UpdatedAt = l.now()
	snapshot := *op
	l.mu.Unlock()

	l.record(snapshot)
	return nil
}

func (l *Ledger) record(op Operation) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Append(op); err != nil {
		l.logger.Warn("journal append failed", "op", op.ID, "err", err)
	}
}

// Operations returns copies of all operations in insertion order.
func (l *Ledger) Operations() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Operation, len(l.ops))
	for i, op := range l.ops {
		out[i] = *op
	}
	return out
}

// Get returns a copy of one operation.
func (l *Ledger) Get(id string) (Operation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.index[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// Completed returns completed operations in insertion order.
func (l *Ledger) Completed() []Operation {
	var out []Operation
	for _, op := range l.Operations() {
		if op.State == StateCompleted {
			out = append(out, op)
		}
	}
	return out
}
