package zapctx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, zapcore.InfoLevel)
	ctx := WithLogger(t.Context(), logger)
	Info(ctx, "hello")
	assert.Equal(t, "INFO\thello\n", buf.String())
}

func TestLoggerNilContextUsesNop(t *testing.T) {
	SetFallback(nil)
	assert.NotPanics(t, func() {
		Logger(nil).Info("dropped") //nolint:staticcheck // for test
	})
}

func TestLoggerWithoutLoggerUsesFallback(t *testing.T) {
	var buf bytes.Buffer
	SetFallback(newLogger(&buf, zapcore.InfoLevel))
	t.Cleanup(func() { SetFallback(nil) })

	Warn(t.Context(), "from background job")
	assert.Equal(t, "WARN\tfrom background job\n", buf.String())
}

func TestLoggerNilLoggerUsesFallback(t *testing.T) {
	var buf bytes.Buffer
	SetFallback(newLogger(&buf, zapcore.InfoLevel))
	t.Cleanup(func() { SetFallback(nil) })

	ctx := WithLogger(t.Context(), nil)
	Info(ctx, "hello")
	assert.Equal(t, "INFO\thello\n", buf.String())
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, zapcore.InfoLevel)
	ctx := WithLogger(t.Context(), logger)
	outputLogger := Logger(ctx)
	assert.Equal(t, logger, outputLogger)
}

func TestWithFields0(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, zapcore.InfoLevel)
	ctx := WithLogger(t.Context(), logger)
	ctx = WithFields(ctx)
	Info(ctx, "hello")
	assert.Equal(t, "INFO\thello\n", buf.String())
}

func TestWithFields1(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, zapcore.InfoLevel)
	ctx := WithLogger(t.Context(), logger)
	ctx = WithFields(ctx, zap.String("request_id", "r-1"), zap.String("route", "/api/logs"))
	Info(ctx, "hello")
	assert.Equal(t, "INFO\thello\t{\"request_id\": \"r-1\", \"route\": \"/api/logs\"}\n", buf.String())
}

func TestDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, zapcore.DebugLevel)
	ctx := WithLogger(t.Context(), logger)
	messageAllLevels(ctx)
	assert.Equal(t, "DEBUG\thello\nINFO\thello\nWARN\thello\nERROR\thello\n", buf.String())
}

func TestWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, zapcore.WarnLevel)
	ctx := WithLogger(t.Context(), logger)
	messageAllLevels(ctx)
	assert.Equal(t, "WARN\thello\nERROR\thello\n", buf.String())
}

func TestLoggerForCaller(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core, zap.AddCaller())
	ctx := WithLogger(t.Context(), logger)
	Info(ctx, "Hello_info_wrap")
	Logger(ctx).Info("Hello_info_direct")
	Error(ctx, "Hello_error_wrap")

	actual := make([]string, len(logs.All()))
	for i, entry := range logs.All() {
		actual[i] = loggedEntryToString(entry)
	}
	expected := []string{
		"zapctx.TestLoggerForCaller Hello_info_wrap info",
		"zapctx.TestLoggerForCaller Hello_info_direct info",
		"zapctx.TestLoggerForCaller Hello_error_wrap error",
	}
	assert.Equal(t, expected, actual)
}

func loggedEntryToString(entry observer.LoggedEntry) string {
	caller := entry.Caller.Function
	caller = caller[strings.LastIndex(caller, "/")+1:]
	return strings.TrimSpace(fmt.Sprintln(caller, entry.Message, entry.Level))
}

func messageAllLevels(ctx context.Context) {
	Debug(ctx, "hello")
	Info(ctx, "hello")
	Warn(ctx, "hello")
	Error(ctx, "hello")
}

func newLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	config := zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		EncodeLevel: zapcore.CapitalLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(config),
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core)
}
