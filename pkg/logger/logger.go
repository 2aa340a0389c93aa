// Package logger provides the leveled logging interface used by the
// reconstruction stages and the command line tool.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

type LogLevel int

const (
	// LogDebug - DEBUG log level
	LogDebug LogLevel = iota

	// LogInfo - INFO log level
	LogInfo

	// LogError - ERROR log level (does not call os.Exit!)
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogError: "ERROR",
}

// ILogger is the logging surface every stage accepts
type ILogger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Errorf(format string, a ...interface{})
	SetLogLevel(level LogLevel)
	GetLogLevel() LogLevel
}

// StdOutLogger writes timestamped, level-prefixed lines
type StdOutLogger struct {
	logLevel LogLevel
	out      *log.Logger
}

// NewStdOutLogger returns a logger writing to stdout at the given level
func NewStdOutLogger(level LogLevel) *StdOutLogger {
	return NewWriterLogger(os.Stdout, level)
}

// NewWriterLogger returns a logger writing to w at the given level
func NewWriterLogger(w io.Writer, level LogLevel) *StdOutLogger {
	return &StdOutLogger{logLevel: level, out: log.New(w, "", log.LstdFlags)}
}

func (l *StdOutLogger) Printf(level LogLevel, format string, a ...interface{}) {
	if level < l.logLevel {
		return
	}
	l.out.Println(logLevelPrefix[level] + ": " + fmt.Sprintf(format, a...))
}
func (l *StdOutLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *StdOutLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *StdOutLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

func (l *StdOutLogger) SetLogLevel(level LogLevel) {
	l.logLevel = level
}
func (l *StdOutLogger) GetLogLevel() LogLevel {
	return l.logLevel
}

// NullLogger discards everything, used to silence tests
type NullLogger struct {
}

func (l *NullLogger) Printf(level LogLevel, format string, a ...interface{}) {
}
func (l *NullLogger) Debugf(format string, a ...interface{}) {
}
func (l *NullLogger) Infof(format string, a ...interface{}) {
}
func (l *NullLogger) Errorf(format string, a ...interface{}) {
}
func (l *NullLogger) SetLogLevel(level LogLevel) {
}
func (l *NullLogger) GetLogLevel() LogLevel {
	return LogError
}

// OrNull returns l, or a NullLogger when l is nil
func OrNull(l ILogger) ILogger {
	if l == nil {
		return &NullLogger{}
	}
	return l
}
