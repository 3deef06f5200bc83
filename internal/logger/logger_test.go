package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"hammerhead/internal/logger"

	"github.com/rs/zerolog"
)

func TestZeroLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf, zerolog.DebugLevel)

	l.With("session", "abc").Info("请求完成", "status", 200)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("日志应为 JSON: %v", err)
	}
	if entry["session"] != "abc" {
		t.Errorf("session 字段缺失: %v", entry)
	}
	if entry["status"] != float64(200) {
		t.Errorf("status 字段错误: %v", entry["status"])
	}
	if entry["message"] != "请求完成" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestZeroLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf, zerolog.WarnLevel)

	l.Debug("不应输出")
	l.Info("不应输出")
	if buf.Len() != 0 {
		t.Fatalf("低于 warn 的日志不应输出: %s", buf.String())
	}

	l.Err(errors.New("boom"), "失败")
	if !bytes.Contains(buf.Bytes(), []byte("boom")) {
		t.Errorf("错误信息应写入日志: %s", buf.String())
	}
}

func TestNewWithoutWriters(t *testing.T) {
	l := logger.New(logger.Options{Level: "info"})
	// 没有输出目标时返回空日志，调用不应 panic
	l.Info("noop")
	l.With("a", 1).Error("noop")
}
