package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger. It discards everything until Init runs.
var Log = zap.NewNop()

// Options selects how New builds a logger.
type Options struct {
	Level   string
	Env     string
	Service string
	// Extra cores receive every entry alongside the configured sink.
	Tee []zapcore.Core
}

// New builds a JSON logger for production and a colored console logger
// elsewhere. Unknown levels fall back to info.
func New(opts Options) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if opts.Env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(parseLevel(opts.Level))

	service := opts.Service
	if service == "" {
		service = "phonehub"
	}
	var buildOpts []zap.Option
	if len(opts.Tee) > 0 {
		buildOpts = append(buildOpts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			cores := []zapcore.Core{c}
			for _, extra := range opts.Tee {
				if leveled, err := zapcore.NewIncreaseLevelCore(extra, config.Level); err == nil {
					extra = leveled
				}
				cores = append(cores, extra)
			}
			return zapcore.NewTee(cores...)
		}))
	}
	// Fields go last so the tee cores carry them too.
	buildOpts = append(buildOpts, zap.Fields(zap.String("service", service)))
	return config.Build(buildOpts...)
}

// Init replaces Log with a logger built for level and env.
func Init(level, env string) error {
	l, err := New(Options{Level: level, Env: env})
	if err != nil {
		return err
	}
	Log = l
	return nil
}

func Sync() {
	// Syncing stderr fails on some terminals; nothing useful to report.
	_ = Log.Sync()
}

func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
