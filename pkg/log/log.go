// Package log records filesystem events with syslog-style severities. Entries
// are kept in a bounded backlog while logging is enabled and written to the
// configured output when they are at least as severe as the configured
// level. Logging is disabled by default.
//
// Code that prefers structured logging uses Logger, a *zap.Logger feeding the
// same backlog and output.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a syslog severity. Lower values are more severe.
type Level int8

const (
	EMERG Level = iota
	ALERT
	CRIT
	ERR
	WARN
	NOTICE
	INFO
	DEBUG
)

var levelNames = [...]string{
	EMERG:  "emergency",
	ALERT:  "alert",
	CRIT:   "critical",
	ERR:    "error",
	WARN:   "warning",
	NOTICE: "notice",
	INFO:   "info",
	DEBUG:  "debug",
}

func (l Level) String() string {
	if l < EMERG || l > DEBUG {
		return fmt.Sprintf("level(%d)", int8(l))
	}
	return levelNames[l]
}

// LevelPtr returns a pointer to l for use in Config.
func LevelPtr(l Level) *Level { return &l }

// ParseLevel returns the level named s, as printed by Level.String.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(l), nil
		}
	}
	return 0, fmt.Errorf("log: unknown level %q", s)
}

// Entry is one recorded log message.
type Entry struct {
	Level     Level
	Timestamp time.Time
	Elapsed   time.Duration // since the package was loaded
	Message   string
}

// MaxEntries bounds the backlog; older entries are dropped first.
const MaxEntries = 4096

// Config controls logging. Nil Level, Format and Output keep the current
// ones.
type Config struct {
	Enabled     bool
	Level       *Level
	Format      func(Entry) string
	Output      io.Writer
	DumpBacklog bool // write every backlog entry after configuring
}

// DefaultFormat renders an entry as "[   elapsed] message" with the elapsed
// time in seconds.
func DefaultFormat(e Entry) string {
	return fmt.Sprintf("[%10.3f] %s", e.Elapsed.Seconds(), e.Message)
}

type state struct {
	mu       sync.Mutex
	start    time.Time
	enabled  bool
	minLevel Level
	format   func(Entry) string
	output   io.Writer
	entries  []Entry
}

var std = &state{
	start:    time.Now(),
	minLevel: ALERT,
	format:   DefaultFormat,
	output:   os.Stderr,
}

// Configure applies cfg.
func Configure(cfg Config) {
	std.mu.Lock()
	defer std.mu.Unlock()

	std.enabled = cfg.Enabled
	if cfg.Level != nil {
		std.minLevel = *cfg.Level
	}
	if cfg.Format != nil {
		std.format = cfg.Format
	}
	if cfg.Output != nil {
		std.output = cfg.Output
	}

	if !cfg.DumpBacklog {
		return
	}
	for _, e := range std.entries {
		std.write(e)
	}
}

// Enabled reports whether entries are being recorded.
func Enabled() bool {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.enabled
}

// Log records message at level.
func Log(level Level, message string) {
	std.mu.Lock()
	defer std.mu.Unlock()

	if !std.enabled {
		return
	}

	now := time.Now()
	e := Entry{Level: level, Timestamp: now, Elapsed: now.Sub(std.start), Message: message}
	if len(std.entries) == MaxEntries {
		copy(std.entries, std.entries[1:])
		std.entries = std.entries[:MaxEntries-1]
	}
	std.entries = append(std.entries, e)
	std.write(e)
}

// write outputs e if it passes the level filter. The caller holds mu.
func (s *state) write(e Entry) {
	if e.Level > s.minLevel {
		return
	}
	fmt.Fprintln(s.output, s.format(e))
}

// Entries returns a copy of the backlog, oldest first.
func Entries() []Entry {
	std.mu.Lock()
	defer std.mu.Unlock()
	return append([]Entry(nil), std.entries...)
}

// Reset drops the backlog.
func Reset() {
	std.mu.Lock()
	std.entries = nil
	std.mu.Unlock()
}

func Emerg(message string)  { Log(EMERG, message) }
func Alert(message string)  { Log(ALERT, message) }
func Crit(message string)   { Log(CRIT, message) }
func Err(message string)    { Log(ERR, message) }
func Warn(message string)   { Log(WARN, message) }
func Notice(message string) { Log(NOTICE, message) }
func Info(message string)   { Log(INFO, message) }
func Debug(message string)  { Log(DEBUG, message) }

// Deprecated records a warning that symbol is deprecated.
func Deprecated(symbol string) {
	Log(WARN, symbol+" is deprecated and should not be used.")
}
