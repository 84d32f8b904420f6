package mock

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is a zap logger that records its entries
type Logger struct {
	*zap.Logger
	logs *observer.ObservedLogs
}

// NewLogger creates a logger that records debug and above
func NewLogger() *Logger {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core), logs: logs}
}

// Messages returns the recorded messages in order
func (l *Logger) Messages() []string {
	entries := l.logs.All()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

// HasEntry checks if a message was logged at a specific level
func (l *Logger) HasEntry(level zapcore.Level, message string) bool {
	return l.logs.FilterLevelExact(level).FilterMessage(message).Len() > 0
}

// Count returns how many entries carry message
func (l *Logger) Count(message string) int {
	return l.logs.FilterMessage(message).Len()
}
