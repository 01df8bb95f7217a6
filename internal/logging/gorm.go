package logging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// ParseGormLevel maps a level name to gorm's log level. Unknown names map
// to Warn.
func ParseGormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

type gormLogger struct {
	log           zerolog.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger routes gorm's logging through l.
func NewGormLogger(l zerolog.Logger, level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{
		log:           Component(l, "gorm"),
		level:         level,
		slowThreshold: defaultSlowQuery,
	}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{log: g.log, level: level, slowThreshold: g.slowThreshold}
}

func (g *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Info {
		g.log.Info().Msg(fmt.Sprintf(msg, data...))
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.log.Warn().Msg(fmt.Sprintf(msg, data...))
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Error {
		g.log.Error().Msg(fmt.Sprintf(msg, data...))
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		sql, rows := fc()
		g.log.Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("Query error")
	case elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.log.Warn().Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("Slow query")
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.log.Debug().Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("Query")
	}
}
