package logger

import (
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. Debug mode uses zap's development encoder with
// coloured levels; otherwise info and above are printed without timestamps.
func New(opts Options) *zap.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	colour := false
	if f, ok := out.(*os.File); ok {
		colour = isatty.IsTerminal(f.Fd())
	}

	var (
		encCfg zapcore.EncoderConfig
		level  = zapcore.InfoLevel
		zopts  []zap.Option
	)
	if opts.debug() {
		encCfg = zap.NewDevelopmentEncoderConfig()
		level = zapcore.DebugLevel
		zopts = append(zopts, zap.AddCaller())
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.TimeKey = ""
		encCfg.CallerKey = ""
		encCfg.NameKey = ""
	}
	if colour {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(out)), level),
	}
	if opts.File != "" {
		writer := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(writer),
			zapcore.DebugLevel,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zopts...)
}
