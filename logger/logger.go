package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

type LoggerOpts struct {
	Level        string
	IsProduction bool
	JSONConsole  bool      // Whether to use JSON encoding for the console output
	Output       io.Writer // Defaults to stdout on a terminal, stderr otherwise
}

// Use zap WrapCore if interface is required
func NewZapLogger(opts LoggerOpts) (*zap.Logger, zap.AtomicLevel, error) {
	if opts.Level == "none" {
		return zap.NewNop(), zap.NewAtomicLevel(), nil
	}
	level, err := zap.ParseAtomicLevel(opts.Level)
	if err != nil {
		return nil, level, err
	}
	var ecfg zapcore.EncoderConfig
	if opts.IsProduction {
		ecfg = zap.NewProductionEncoderConfig()
	} else {
		ecfg = zap.NewDevelopmentEncoderConfig()
	}
	ecfg.EncodeTime = zapcore.ISO8601TimeEncoder

	out, tty := output(opts.Output)
	var core zapcore.Core
	if opts.JSONConsole || !tty {
		core = jsonCore(ecfg, out, level)
	} else {
		core = consoleCore(ecfg, out, level)
	}
	return zap.New(core), level, nil
}

// Pretty coloured output for an interactive terminal
func consoleCore(ecfg zapcore.EncoderConfig, out zapcore.WriteSyncer, level zap.AtomicLevel) zapcore.Core {
	ecfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(ecfg), out, level)
}

// JSON lines, for production and for anything that isn't a terminal (containers, pipes)
func jsonCore(ecfg zapcore.EncoderConfig, out zapcore.WriteSyncer, level zap.AtomicLevel) zapcore.Core {
	return zapcore.NewCore(zapcore.NewJSONEncoder(ecfg), out, level)
}

func output(w io.Writer) (zapcore.WriteSyncer, bool) {
	if w != nil {
		return zapcore.AddSync(w), false
	}
	if isTTY() {
		return zapcore.AddSync(os.Stdout), true
	}
	return zapcore.Lock(os.Stderr), false
}

type Logger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

// New wrapped Zap logger.
func NewLogger(opts LoggerOpts) (Logger, error) {
	logger, level, err := NewZapLogger(opts)
	return Logger{logger, level}, err
}

func NewNoopLogger() Logger {
	return Logger{logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Return usable Zap logger.
func (l Logger) Get() *zap.Logger {
	return l.logger
}

// Named returns a child logger tagged with the component name.
func (l Logger) Named(component string) *zap.Logger {
	return l.logger.Named(component)
}

// Change the log level at runtime
func (l Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Change the log level at runtime, e.g. from a reloaded config file
func (l Logger) SetLevelStr(input string) error {
	level, err := zap.ParseAtomicLevel(input)
	if err != nil {
		return err
	}
	l.level.SetLevel(level.Level())
	return nil
}

// Level reports the current minimum level.
func (l Logger) Level() zapcore.Level {
	return l.level.Level()
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
