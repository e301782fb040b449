package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// SimpleLogger is a structured, stdlib-backed logger implementing Logger and
// ComponentAwareLogger. It is the default logger for every binary in this
// repository; production deployments may substitute any other Logger
// implementation without code elsewhere needing to change, since every
// component receives its logger through its constructor.
type SimpleLogger struct {
	level     logLevel
	component string
	fields    map[string]interface{}
}

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
	levelError
)

// NewSimpleLogger creates a logger at the level named by LOG_LEVEL (default INFO).
func NewSimpleLogger() *SimpleLogger {
	l := &SimpleLogger{level: levelInfo, fields: map[string]interface{}{}}
	l.SetLevel(os.Getenv("LOG_LEVEL"))
	return l
}

func (l *SimpleLogger) SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		l.level = levelDebug
	case "WARN", "WARNING":
		l.level = levelWarn
	case "ERROR":
		l.level = levelError
	default:
		l.level = levelInfo
	}
}

func (l *SimpleLogger) WithComponent(component string) Logger {
	clone := l.clone()
	clone.component = component
	return clone
}

func (l *SimpleLogger) clone() *SimpleLogger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &SimpleLogger{level: l.level, component: l.component, fields: fields}
}

func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) {
	if l.level <= levelDebug {
		l.emit("DEBUG", msg, fields)
	}
}
func (l *SimpleLogger) Info(msg string, fields map[string]interface{}) {
	if l.level <= levelInfo {
		l.emit("INFO", msg, fields)
	}
}
func (l *SimpleLogger) Warn(msg string, fields map[string]interface{}) {
	if l.level <= levelWarn {
		l.emit("WARN", msg, fields)
	}
}
func (l *SimpleLogger) Error(msg string, fields map[string]interface{}) {
	l.emit("ERROR", msg, fields)
}

func (l *SimpleLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, fields)
}
func (l *SimpleLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, fields)
}
func (l *SimpleLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, fields)
}
func (l *SimpleLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, fields)
}

func (l *SimpleLogger) emit(level, msg string, fields map[string]interface{}) {
	parts := make([]string, 0, 2+len(l.fields)+len(fields))
	parts = append(parts, fmt.Sprintf("[%s]", level))
	if l.component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", l.component))
	}
	parts = append(parts, msg)
	for k, v := range l.fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	log.Println(strings.Join(parts, " "))
}
