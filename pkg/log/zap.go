package log

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns a zap logger writing into this package's backlog. Structured
// fields are appended to the message as key=value pairs. Whether anything is
// recorded follows Configure, so the logger can be created once and kept.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		logger = zap.New(&core{})
	})
	return logger
}

// FromZap maps a zap level onto a syslog severity.
func FromZap(l zapcore.Level) Level {
	switch l {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.InfoLevel:
		return INFO
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERR
	case zapcore.DPanicLevel:
		return CRIT
	case zapcore.PanicLevel:
		return ALERT
	default:
		return EMERG
	}
}

type core struct {
	fields []zapcore.Field
}

func (c *core) Enabled(zapcore.Level) bool { return Enabled() }

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	return &core{fields: append(slices.Clip(c.fields), fields...)}
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	var b strings.Builder
	if ent.LoggerName != "" {
		b.WriteString(ent.LoggerName)
		b.WriteString(": ")
	}
	b.WriteString(ent.Message)

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, enc.Fields[k])
	}

	Log(FromZap(ent.Level), b.String())
	return nil
}

func (c *core) Sync() error { return nil }
