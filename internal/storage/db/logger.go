package db

import (
	"context"
	"errors"
	"time"

	"hammerhead/internal/logger"

	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

// SlowThreshold 慢查询阈值
const SlowThreshold = 200 * time.Millisecond

// Logger 将 GORM 日志桥接到项目日志
type Logger struct {
	log      logger.Logger
	LogLevel glog.LogLevel
}

// NewLogger 创建 GORM 日志适配器，默认只输出警告与错误
func NewLogger(l logger.Logger) *Logger {
	return &Logger{log: l.With("component", "gorm"), LogLevel: glog.Warn}
}

// LogMode 实现 glog.Interface
func (l *Logger) LogMode(level glog.LogLevel) glog.Interface {
	n := *l
	n.LogLevel = level
	return &n
}

func (l *Logger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Info {
		l.log.Info(msg, "data", data)
	}
}

func (l *Logger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Warn {
		l.log.Warn(msg, "data", data)
	}
}

func (l *Logger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Error {
		l.log.Error(msg, "data", data)
	}
}

// Trace 记录 SQL 执行详情；记录不存在不视为错误
func (l *Logger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= glog.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{"sql", sql, "rows", rows, "timeMs", float64(elapsed.Nanoseconds()) / 1e6}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= glog.Error:
		l.log.Err(err, "SQL执行错误", fields...)
	case elapsed > SlowThreshold && l.LogLevel >= glog.Warn:
		l.log.Warn("慢SQL查询", fields...)
	case l.LogLevel >= glog.Info:
		l.log.Debug("SQL执行", fields...)
	}
}
