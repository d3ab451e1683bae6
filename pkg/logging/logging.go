package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rexliu/vsockpep/pkg/config"
)

// Logger wraps a zap sugared logger. Output goes to stderr: stdout belongs
// to the bridge protocol and must carry nothing but the response.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
	name  string
	out   zapcore.WriteSyncer
	file  *lumberjack.Logger
}

// New returns a logger named name writing warnings and above to stderr.
func New(name string) *Logger {
	return NewWithWriter(name, os.Stderr)
}

// NewWithWriter is New with an explicit console destination.
func NewWithWriter(name string, w io.Writer) *Logger {
	l := &Logger{
		level: zap.NewAtomicLevelAt(zapcore.WarnLevel),
		name:  name,
		out:   zapcore.Lock(zapcore.AddSync(w)),
	}
	l.build(nil)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// Configure applies logging settings from config.
func (l *Logger) Configure(cfg config.LoggingConfig) error {
	if l == nil || l.out == nil {
		return nil
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return err
		}
		l.level.SetLevel(level)
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return err
		}
		l.file = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.FileMaxSize,
			MaxBackups: cfg.FileBackups,
		}
		l.build(zapcore.AddSync(l.file))
	}
	return nil
}

func (l *Logger) build(file zapcore.WriteSyncer) {
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), l.out, l.level),
	}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), file, l.level))
	}
	l.SugaredLogger = zap.New(zapcore.NewTee(cores...)).Named(l.name).Sugar()
}

// Printf logs at info level; it lets Logger stand in where only Printf is
// expected.
func (l *Logger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

// Close flushes buffered entries and closes the rolling file, if any.
func (l *Logger) Close() error {
	if l == nil || l.SugaredLogger == nil {
		return nil
	}
	_ = l.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
