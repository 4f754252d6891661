// Package flog is the ambient leveled logger shared by every node in the
// dataflow graph. Log lines are formatted on the caller's goroutine but
// written on a single background goroutine so a slow stdout never stalls
// a worker.
package flog

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

type Level int

const None Level = -1

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

var levelStrings = [...]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
	Fatal: "FATAL",
}

func (l Level) String() string {
	if int(l) >= 0 && int(l) < len(levelStrings) {
		return levelStrings[l]
	}
	if l == None {
		return "None"
	}
	return "UNKNOWN"
}

var (
	minLevel = Info
	logCh    = make(chan string, 1024)
	dropped  atomic.Uint64
	started  atomic.Bool
)

// Dropped returns the number of log lines dropped because the writer
// goroutine could not keep up.
func Dropped() uint64 { return dropped.Load() }

// SetLevel sets the minimum level that is emitted and starts the writer
// goroutine on the first call with a level other than None. Pass None to
// silence the logger entirely.
func SetLevel(l Level) {
	minLevel = l
	if l == None {
		return
	}
	if started.CompareAndSwap(false, true) {
		go func() {
			for msg := range logCh {
				fmt.Fprint(os.Stdout, msg)
			}
		}()
	}
}

func logf(level Level, format string, args ...any) {
	if minLevel == None || level < minLevel {
		return
	}
	if len(logCh) == cap(logCh) {
		dropped.Add(1)
		return
	}
	now := time.Now().Format("2006-01-02 15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s\n", now, level, fmt.Sprintf(format, args...))
	select {
	case logCh <- line:
	default:
		dropped.Add(1)
	}
}

func Debugf(format string, args ...any) { logf(Debug, format, args...) }
func Infof(format string, args ...any)  { logf(Info, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, format, args...) }
func Errorf(format string, args ...any) { logf(Error, format, args...) }

// Fatalf logs at FATAL and exits the process with a non-zero status, for
// unrecoverable singleton-initialization failures.
func Fatalf(format string, args ...any) {
	logf(Fatal, format, args...)
	time.Sleep(10 * time.Millisecond)
	os.Exit(1)
}

// Close drains and stops the writer goroutine. Safe to call once at
// shutdown.
func Close() {
	if started.Load() {
		close(logCh)
	}
}
