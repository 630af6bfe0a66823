/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package log provides the process-wide leveled logger used by every
// other package. It never returns an error to its callers — logging
// must never be the reason a handler chain aborts.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	// DebugLevel logs verbose diagnostic information.
	DebugLevel Level = iota
	// InfoLevel logs normal operational messages.
	InfoLevel
	// WarnLevel logs recoverable anomalies.
	WarnLevel
	// ErrorLevel logs failures that were handled but should be surfaced.
	ErrorLevel
	// FatalLevel logs a failure followed by process exit.
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DBG"
	case InfoLevel:
		return "INF"
	case WarnLevel:
		return "WRN"
	case ErrorLevel:
		return "ERR"
	case FatalLevel:
		return "FTL"
	default:
		return "???"
	}
}

var (
	mu     sync.Mutex
	level  = InfoLevel
	out    io.Writer = os.Stderr
	exitFn           = os.Exit
)

// SetLevel changes the minimum level written from this point on.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output, e.g. to a rotating file writer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func logf(l Level, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(out, "%s [%s] %s\n", ts, l, fmt.Sprintf(format, args...))
}

// Debugf logs a debug-level message.
func Debugf(format string, args ...interface{}) { logf(DebugLevel, format, args...) }

// Infof logs an info-level message.
func Infof(format string, args ...interface{}) { logf(InfoLevel, format, args...) }

// Warnf logs a warn-level message.
func Warnf(format string, args ...interface{}) { logf(WarnLevel, format, args...) }

// Errorf logs an error-level message.
func Errorf(format string, args ...interface{}) { logf(ErrorLevel, format, args...) }

// Error logs an error value at error level. Nil errors are ignored so
// callers can write `log.Error(err)` unconditionally.
func Error(err error) {
	if err == nil {
		return
	}
	logf(ErrorLevel, "%v", err)
}

// Fatalf logs a fatal-level message and terminates the process.
func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, format, args...)
	exitFn(1)
}
