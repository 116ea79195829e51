// Package log provides the leveled key/value logger the search core reports
// diagnostics through: data-quality skips, benign write races and crawl
// progress.
package log

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

var (
	mu       sync.RWMutex
	logger   = stdlog.New(os.Stderr, "", stdlog.LstdFlags|stdlog.Lmicroseconds)
	minLevel = LevelInfo
)

// SetLevel sets the minimum level emitted.
func SetLevel(l Level) {
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(l *stdlog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

func Debug(msg string, kv ...interface{}) { emit(LevelDebug, msg, kv...) }

func Info(msg string, kv ...interface{}) { emit(LevelInfo, msg, kv...) }

func Warn(msg string, kv ...interface{}) { emit(LevelWarn, msg, kv...) }

// Error logs msg with err prepended to the key/value list.
func Error(msg string, err error, kv ...interface{}) {
	emit(LevelError, msg, append([]interface{}{"err", err}, kv...)...)
}

func emit(level Level, msg string, kv ...interface{}) {
	mu.RLock()
	l, min := logger, minLevel
	mu.RUnlock()
	if levelRank[level] < levelRank[min] {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 != 0 {
		fmt.Fprintf(&b, " %v=?", kv[len(kv)-1])
	}
	l.Println(b.String())
}
