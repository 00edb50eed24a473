// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Action is the decision outcome recorded for an operation.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionWarn     Action = "warn"
	ActionBlock    Action = "block"
	ActionSanitize Action = "sanitize"
	ActionRedact   Action = "redact"
	ActionGrant    Action = "grant"
	ActionDeny     Action = "deny"
)

// Record is one trust-boundary decision. The payload that was scanned
// or the credential value that was released is never part of the
// record; Detail carries only operational context (rule names, backend
// names, status codes).
type Record struct {
	ID        string            `cbor:"id"        json:"id"`
	Timestamp time.Time         `cbor:"ts"        json:"timestamp"`
	Session   string            `cbor:"session"   json:"session"`
	Operation string            `cbor:"op"        json:"operation"`
	Category  string            `cbor:"category"  json:"category,omitempty"`
	Score     float64           `cbor:"score"     json:"score"`
	Action    Action            `cbor:"action"    json:"action"`
	Requester string            `cbor:"requester" json:"requester,omitempty"`
	Detail    map[string]string `cbor:"detail"    json:"detail,omitempty"`
}

// New builds a Record with a fresh uuid and the current time. Callers
// fill in the decision fields.
func New(session, operation string) Record {
	return Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Session:   session,
		Operation: operation,
	}
}

// Sink receives audit records. Implementations must be safe for
// concurrent use; records from one session arrive in decision order
// because the caller emits them synchronously.
type Sink interface {
	Emit(ctx context.Context, record Record) error
	Close() error
}

// LogSink writes records to a structured logger. It is the zero-setup
// sink: no file, no schema, loss on restart is acceptable for it.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or slog.Default() when
// logger is nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, record Record) error {
	attrs := []any{
		"id", record.ID,
		"session", record.Session,
		"operation", record.Operation,
		"action", string(record.Action),
		"score", record.Score,
	}
	if record.Category != "" {
		attrs = append(attrs, "category", record.Category)
	}
	if record.Requester != "" {
		attrs = append(attrs, "requester", record.Requester)
	}
	for key, value := range record.Detail {
		attrs = append(attrs, "detail."+key, value)
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

func (s *LogSink) Close() error { return nil }

// MultiSink emits to every sink in order and reports the joined
// errors. A failing sink does not stop the others.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Emit(ctx context.Context, record Record) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
