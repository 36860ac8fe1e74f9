package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Entry is one log line under construction. Its fields are the numbers
// dashboards aggregate: duration_ms, count, cost and status.
//
//	logger.With(logger.Fields{"retry_count": 2}).WithCost(0.0021).Warn(ctx, "Job failed")
type Entry struct {
	fallback *Logger
	fields   Fields
}

// With starts an Entry. Fields may be nil.
func With(fields Fields) *Entry {
	return &Entry{fallback: GetDefault(), fields: fields}
}

// With returns a copy of e with fields merged in; later keys win.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fallback: e.fallback, fields: merged}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

func (e *Entry) WithDuration(ms int64) *Entry    { return e.WithField(FieldDurationMs, ms) }
func (e *Entry) WithCount(n int) *Entry          { return e.WithField(FieldCount, n) }
func (e *Entry) WithCost(usd float64) *Entry     { return e.WithField(FieldCost, usd) }
func (e *Entry) WithStatus(status string) *Entry { return e.WithField(FieldStatus, status) }

func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.emit(ctx, logrus.DebugLevel, format, args...)
}

func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.emit(ctx, logrus.InfoLevel, format, args...)
}

func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.emit(ctx, logrus.WarnLevel, format, args...)
}

func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.emit(ctx, logrus.ErrorLevel, format, args...)
}

// emit writes through the context logger when there is one, so job,
// subject and request IDs set upstream stay on the line.
func (e *Entry) emit(ctx context.Context, level logrus.Level, format string, args ...interface{}) {
	l := e.fallback
	if ctx != nil {
		l = FromContext(ctx)
	}
	l.WithFields(e.fields).Logf(level, format, args...)
}
