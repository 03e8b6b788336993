package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stitchline/storefront-backend/pkg/logger"
)

// queryLogger sends GORM's trace output to the service logger. Slow
// statements and failures are always reported; every statement is logged at
// debug level only when verbose is set.
type queryLogger struct {
	logg          *logger.Logger
	slowThreshold time.Duration
	verbose       bool
}

func newQueryLogger(logg *logger.Logger, slow time.Duration, verbose bool) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slowThreshold: slow, verbose: verbose}
}

func (l *queryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logg.Debug(ctx, fmt.Sprintf(msg, args...))
}

func (l *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logg.Warn(ctx, fmt.Sprintf(msg, args...))
}

func (l *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
}

func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !IsUniqueViolation(err, "")
	if !slow && !failed && !l.verbose {
		return
	}

	sql, rows := fc()
	fields := map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	}
	ctx = l.logg.WithFields(ctx, fields)
	switch {
	case failed:
		l.logg.Error(ctx, "db.query_failed", err)
	case slow:
		l.logg.Warn(ctx, "db.slow_query")
	default:
		l.logg.Debug(ctx, "db.query")
	}
}
