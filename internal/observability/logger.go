// Package observability provides structured logging for the live query
// engine. Every subscription lifecycle event — compile, start, a source
// error, an aborted invariant violation — goes through a QueryLogger so an
// operator can answer "what is this engine doing" from logs alone.
//
// Grounded on the JSONLogger/NoopLogger shape of the teacher's
// internal/observability/logger.go: same QueryLogEntry-plus-interface
// split, same encoding/json wire format. The teacher's own logger reaches
// for encoding/json rather than a structured-logging library, so this
// package follows that choice rather than introducing one the corpus never
// uses.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// SubscriptionLogEntry records one lifecycle event of a live subscription.
type SubscriptionLogEntry struct {
	// SubscriptionID identifies the subscription this event belongs to.
	SubscriptionID string

	// Collections are the source collections the compiled query reads from.
	Collections []string

	// Phase names the lifecycle point: "compile", "start", "change", "stop".
	Phase string

	// RowsMaterialized is the size of the output set after this event, when
	// applicable.
	RowsMaterialized int

	// Duration is how long this phase took.
	Duration time.Duration

	// Outcome is "success", "error", or "rejected".
	Outcome string

	// Error holds the failure message, empty on success.
	Error string

	// InvariantViolated names which invariant aborted the query, if any.
	InvariantViolated string
}

// Validate checks that the entry carries the fields every event requires.
func (e *SubscriptionLogEntry) Validate() error {
	if e.SubscriptionID == "" {
		return fmt.Errorf("observability: subscription_id is required")
	}
	if e.Phase == "" {
		return fmt.Errorf("observability: phase is required")
	}
	if e.Duration < 0 {
		return fmt.Errorf("observability: duration cannot be negative")
	}
	return nil
}

// QueryLogger is the interface every engine entry point logs through.
type QueryLogger interface {
	LogEvent(ctx context.Context, entry SubscriptionLogEntry) error
	Summary() *Summary
}

// Summary is an aggregated view across every event a logger has observed,
// never raw row data.
type Summary struct {
	SuccessCount    int              `json:"success_count"`
	ErrorCount      int              `json:"error_count"`
	TopErrorReasons []ReasonStat     `json:"top_error_reasons"`
	TopCollections  []CollectionStat `json:"top_collections"`
}

// ReasonStat counts occurrences of one error message.
type ReasonStat struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// CollectionStat counts how often a collection appeared in a subscription.
type CollectionStat struct {
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

type jsonLogOutput struct {
	Timestamp         string   `json:"timestamp"`
	Level             string   `json:"level"`
	SubscriptionID    string   `json:"subscription_id"`
	Collections       []string `json:"collections"`
	Phase             string   `json:"phase"`
	RowsMaterialized  int      `json:"rows_materialized,omitempty"`
	DurationMs        int64    `json:"duration_ms"`
	Outcome           string   `json:"outcome,omitempty"`
	Error             string   `json:"error,omitempty"`
	InvariantViolated string   `json:"invariant_violated,omitempty"`
}

// JSONLogger writes one JSON object per event to writer and keeps enough
// history in memory to answer Summary.
type JSONLogger struct {
	writer  io.Writer
	entries []SubscriptionLogEntry
	mu      sync.RWMutex
}

// NewJSONLogger returns a logger that writes newline-delimited JSON to w.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{writer: w}
}

func (l *JSONLogger) LogEvent(ctx context.Context, entry SubscriptionLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	level := "info"
	if entry.Error != "" {
		level = "error"
	}
	out := jsonLogOutput{
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Level:             level,
		SubscriptionID:    entry.SubscriptionID,
		Collections:       entry.Collections,
		Phase:             entry.Phase,
		RowsMaterialized:  entry.RowsMaterialized,
		DurationMs:        entry.Duration.Milliseconds(),
		Outcome:           entry.Outcome,
		Error:             entry.Error,
		InvariantViolated: entry.InvariantViolated,
	}
	if out.Collections == nil {
		out.Collections = []string{}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("observability: failed to marshal log: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("observability: failed to write log: %w", err)
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

func (l *JSONLogger) Summary() *Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	summary := &Summary{
		TopErrorReasons: []ReasonStat{},
		TopCollections:  []CollectionStat{},
	}

	reasons := make(map[string]int)
	collections := make(map[string]int)

	for _, e := range l.entries {
		if e.Error == "" {
			summary.SuccessCount++
		} else {
			summary.ErrorCount++
			reasons[e.Error]++
		}
		for _, c := range e.Collections {
			collections[c]++
		}
	}

	for reason, count := range reasons {
		summary.TopErrorReasons = append(summary.TopErrorReasons, ReasonStat{Reason: reason, Count: count})
	}
	sort.Slice(summary.TopErrorReasons, func(i, j int) bool {
		return summary.TopErrorReasons[i].Count > summary.TopErrorReasons[j].Count
	})
	if len(summary.TopErrorReasons) > 5 {
		summary.TopErrorReasons = summary.TopErrorReasons[:5]
	}

	for c, count := range collections {
		summary.TopCollections = append(summary.TopCollections, CollectionStat{Collection: c, Count: count})
	}
	sort.Slice(summary.TopCollections, func(i, j int) bool {
		return summary.TopCollections[i].Count > summary.TopCollections[j].Count
	})
	if len(summary.TopCollections) > 5 {
		summary.TopCollections = summary.TopCollections[:5]
	}

	return summary
}

// NoopLogger discards every event. Used by tests and by callers that don't
// want logging overhead.
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (NoopLogger) LogEvent(context.Context, SubscriptionLogEntry) error { return nil }

func (NoopLogger) Summary() *Summary {
	return &Summary{TopErrorReasons: []ReasonStat{}, TopCollections: []CollectionStat{}}
}
