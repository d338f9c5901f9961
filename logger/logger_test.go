package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		name    string
		opts    LoggerOpts
		wantErr bool
	}{
		{
			name: "valid debug level",
			opts: LoggerOpts{Level: "debug"},
		},
		{
			name: "valid info level production",
			opts: LoggerOpts{Level: "info", IsProduction: true, JSONConsole: true},
		},
		{
			name: "none level",
			opts: LoggerOpts{Level: "none"},
		},
		{
			name:    "invalid level",
			opts:    LoggerOpts{Level: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Output = &bytes.Buffer{}
			logger, level, err := NewZapLogger(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)

			if tt.opts.Level != "none" {
				expected, _ := zap.ParseAtomicLevel(tt.opts.Level)
				assert.Equal(t, expected.Level(), level.Level())
			}
		})
	}
}

func TestNoneLevelCanBeRaised(t *testing.T) {
	logger, err := NewLogger(LoggerOpts{Level: "none"})
	require.NoError(t, err)

	// Must not panic on a nop logger's level
	require.NoError(t, logger.SetLevelStr("debug"))
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
}

func TestNewNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	require.NotNil(t, logger.Get())
	logger.SetLevel(zapcore.WarnLevel)
	assert.Equal(t, zapcore.WarnLevel, logger.Level())
}

func TestLogger_SetLevelStr(t *testing.T) {
	logger, err := NewLogger(LoggerOpts{Level: "info", Output: &bytes.Buffer{}})
	require.NoError(t, err)

	tests := []struct {
		name      string
		levelStr  string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"debug level", "debug", zapcore.DebugLevel, false},
		{"warn level", "warn", zapcore.WarnLevel, false},
		{"error level", "error", zapcore.ErrorLevel, false},
		{"invalid level keeps previous", "invalid", zapcore.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logger.SetLevelStr(tt.levelStr)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantLevel, logger.Level())
		})
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerOpts{Level: "info", JSONConsole: true, Output: &buf})
	require.NoError(t, err)

	logger.Named("session").Info("completion failed", zap.String("kind", "rate-limited"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"completion failed"`)
	assert.Contains(t, out, `"kind":"rate-limited"`)
	assert.Contains(t, out, `"logger":"session"`)
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerOpts{Level: "warn", Output: &buf})
	require.NoError(t, err)

	zapLogger := logger.Get()
	zapLogger.Debug("debug message")
	zapLogger.Info("info message")
	zapLogger.Warn("warn message")
	zapLogger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")

	require.NoError(t, logger.SetLevelStr("debug"))
	zapLogger.Debug("now visible")
	assert.True(t, strings.Contains(buf.String(), "now visible"))
}

func BenchmarkLoggerInfo(b *testing.B) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerOpts{Level: "info", Output: &buf})
	if err != nil {
		b.Fatal(err)
	}

	zapLogger := logger.Get()
	for b.Loop() {
		zapLogger.Info("benchmark message")
	}
}
