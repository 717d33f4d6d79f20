package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// Queries slower than this are logged at warn level.
const slowQueryThreshold = 200 * time.Millisecond

// gormLogger adapts gorm's logger.Interface onto zap. SQL text is only
// emitted outside production (showSQL), to keep claimant details out of the
// production logs.
type gormLogger struct {
	log     *zap.Logger
	level   logger.LogLevel
	showSQL bool
}

func newGormLogger(log *zap.Logger, level logger.LogLevel, showSQL bool) *gormLogger {
	return &gormLogger{log: log, level: level, showSQL: showSQL}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	failed := err != nil && !errors.Is(err, logger.ErrRecordNotFound)
	slow := elapsed > slowQueryThreshold
	if !failed && !slow && !(l.level == logger.Info && l.showSQL) {
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("caller", utils.FileWithLineNum()),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	if l.showSQL {
		fields = append(fields, zap.String("sql", sql))
	}

	switch {
	case failed:
		l.log.Error("query failed", append(fields, zap.Error(err))...)
	case slow:
		l.log.Warn("slow query", append(fields, zap.Duration("threshold", slowQueryThreshold))...)
	default:
		l.log.Info("query", fields...)
	}
}
