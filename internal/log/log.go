// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package log exports a leveled logger wrapper so redisq's components share
// one small interface instead of depending directly on a third-party
// logging library. Callers who want structured logging plug in their own
// implementation of Base.
package log

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level represents logging severity.
type Level int32

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Base is the logging interface a caller can implement to redirect
// redisq's log output.
type Base interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

// Logger wraps a Base implementation with level filtering.
type Logger struct {
	mu    sync.Mutex
	base  Base
	level Level
}

// NewLogger returns a Logger. If base is nil, a default logger writing to
// stderr via the standard library log package is used.
func NewLogger(base Base) *Logger {
	if base == nil {
		base = newDefaultLogger()
	}
	return &Logger{base: base, level: InfoLevel}
}

// SetLevel sets the minimum level that will be forwarded to the base logger.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *Logger) Debug(args ...interface{}) {
	if l.enabled(DebugLevel) {
		l.base.Debug(args...)
	}
}

func (l *Logger) Info(args ...interface{}) {
	if l.enabled(InfoLevel) {
		l.base.Info(args...)
	}
}

func (l *Logger) Warn(args ...interface{}) {
	if l.enabled(WarnLevel) {
		l.base.Warn(args...)
	}
}

func (l *Logger) Error(args ...interface{}) {
	if l.enabled(ErrorLevel) {
		l.base.Error(args...)
	}
}

func (l *Logger) Fatal(args ...interface{}) {
	l.base.Fatal(args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.enabled(DebugLevel) {
		l.base.Debug(sprintf(format, args...))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.enabled(InfoLevel) {
		l.base.Info(sprintf(format, args...))
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.enabled(WarnLevel) {
		l.base.Warn(sprintf(format, args...))
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.enabled(ErrorLevel) {
		l.base.Error(sprintf(format, args...))
	}
}

type defaultLogger struct {
	*log.Logger
}

func newDefaultLogger() *defaultLogger {
	return &defaultLogger{log.New(os.Stderr, "redisq: ", log.Ldate|log.Ltime|log.Lmicroseconds)}
}

func (l *defaultLogger) Debug(args ...interface{}) { l.print("DEBUG", args...) }
func (l *defaultLogger) Info(args ...interface{})  { l.print("INFO", args...) }
func (l *defaultLogger) Warn(args ...interface{})  { l.print("WARN", args...) }
func (l *defaultLogger) Error(args ...interface{}) { l.print("ERROR", args...) }
func (l *defaultLogger) Fatal(args ...interface{}) { l.print("FATAL", args...); os.Exit(1) }

func (l *defaultLogger) print(level string, args ...interface{}) {
	l.Logger.Print(append([]interface{}{"[" + level + "] "}, args...)...)
}

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
