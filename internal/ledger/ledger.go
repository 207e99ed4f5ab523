// Package ledger collects the recoverable errors of one fulfillment run so they can be
// reported to the administrator in a single summary.
package ledger

import (
	"fmt"
	"strconv"
	"time"
)

// Entry is one recorded error. IDs are sequential within a run, starting at 1.
type Entry struct {
	ID        int
	RequestID string
	Stage     string
	Message   string
	At        time.Time
}

// Ledger is an append-only, run-scoped error collector. It is not safe for concurrent use;
// a run records from a single goroutine.
type Ledger struct {
	entries []Entry
	now     func() time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{now: time.Now}
}

// Record appends err for the given request and stage and returns the entry's id.
func (l *Ledger) Record(requestID, stage string, err error) int {
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	return l.Recordf(requestID, stage, "%s", msg)
}

// Recordf appends a formatted message.
func (l *Ledger) Recordf(requestID, stage, format string, args ...any) int {
	e := Entry{
		ID:        len(l.entries) + 1,
		RequestID: requestID,
		Stage:     stage,
		Message:   fmt.Sprintf(format, args...),
		At:        l.now(),
	}
	l.entries = append(l.entries, e)
	return e.ID
}

// Len is the number of recorded entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the recorded entries in insertion order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Table renders the ledger as header plus rows, for the admin summary.
func (l *Ledger) Table() ([]string, [][]string) {
	header := []string{"Error ID", "Request", "Stage", "Message", "Time"}
	rows := make([][]string, 0, len(l.entries))
	for _, e := range l.entries {
		rows = append(rows, []string{strconv.Itoa(e.ID), e.RequestID, e.Stage, e.Message, e.At.Format("2006-01-02 15:04:05")})
	}
	return header, rows
}
