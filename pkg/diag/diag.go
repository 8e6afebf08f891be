// Package diag collects the non-fatal diagnostics raised while retiming
package diag

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Kind identifies the class of a diagnostic
type Kind string

const (
	// Infeasible means line or pixel doubling was blocked by the pixel clock
	// or the horizontal blanking budget and pass-through timing was used
	Infeasible Kind = "infeasible"

	// PeriodMismatch means the hires line period could not be matched exactly
	PeriodMismatch Kind = "period_mismatch"

	// SyncTimeout means the output stage did not acknowledge a sync request
	// within the read budget
	SyncTimeout Kind = "sync_timeout"

	// UnsupportedMode means the source geometry matched no retiming strategy
	// and was applied verbatim
	UnsupportedMode Kind = "unsupported_mode"

	// FlybackTimeout means no flyback edge was seen within the read budget
	FlybackTimeout Kind = "flyback_timeout"

	// UnknownPreset means a preset id was not in the preset table
	UnknownPreset Kind = "unknown_preset"

	// Info is an informational message with no fault attached
	Info Kind = "info"
)

// Event is a single diagnostic
type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
}

// New creates an event with a formatted message
func New(kind Kind, format string, args ...interface{}) Event {
	return Event{
		Time:    time.Now(),
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Sink receives diagnostics
type Sink interface {
	Report(Event)
}

// Discard is a Sink that drops everything
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(Event) {}

// Multi reports every event to each of its sinks in order
type Multi []Sink

// Report implements Sink
func (m Multi) Report(e Event) {
	for _, s := range m {
		s.Report(e)
	}
}

// DefaultMaxEvents is the default capacity of a Log
const DefaultMaxEvents = 1000

// Log is a Sink that writes each event to a logger and keeps the most recent
// events in memory
type Log struct {
	mu     sync.Mutex
	events []Event
	max    int
	logger *log.Logger
}

// NewLog creates a log keeping at most max events. A nil logger uses the
// standard logger.
func NewLog(max int, logger *log.Logger) *Log {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Log{
		max:    max,
		logger: logger,
	}
}

// Report implements Sink
func (l *Log) Report(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	l.logger.Printf("%s", e)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if len(l.events) > l.max {
		// Drop oldest
		l.events = append(l.events[:0], l.events[len(l.events)-l.max:]...)
	}
}

// Recent returns up to n of the most recent events, oldest first. A
// non-positive n returns all of them.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]Event, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

// Count returns the number of events of the given kind currently held
func (l *Log) Count(kind Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Clear drops all held events
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
