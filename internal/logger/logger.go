// Package logger provides named loggers that write through one process-wide handler.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cenkalti/log"
)

var output = &switchHandler{}

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
	SetLevel(log.INFO)
}

// SetHandler replaces the process-wide handler. Loggers created before the call write to h too.
// The current level is applied to h.
func SetHandler(h log.Handler) {
	h.SetFormatter(logFormatter{})
	output.m.Lock()
	h.SetLevel(output.level)
	output.h = h
	output.m.Unlock()
}

// SetLevel sets the logging level on the process-wide handler.
func SetLevel(l log.Level) {
	output.m.Lock()
	output.level = l
	output.h.SetLevel(l)
	output.m.Unlock()
}

// SetDebug switches the process-wide handler between DEBUG and INFO.
func SetDebug(debug bool) {
	if debug {
		SetLevel(log.DEBUG)
	} else {
		SetLevel(log.INFO)
	}
}

// ParseLevel returns the level with the given name, ignoring case. "warn" is accepted for WARNING.
func ParseLevel(name string) (log.Level, error) {
	name = strings.ToUpper(name)
	if name == "WARN" {
		return log.WARNING, nil
	}
	for l := log.CRITICAL; l <= log.DEBUG; l++ {
		if l.String() == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// Logger is for logging messages from inside of the program in various logging levels.
type Logger log.Logger

// New returns a new Logger with a name.
// Log messages are prefixed with this name.
func New(name string) Logger {
	logger := log.NewLogger(name)
	logger.SetLevel(log.DEBUG) // filtering happens in the handler
	logger.SetHandler(output)
	return logger
}

// switchHandler forwards records to the handler installed last.
type switchHandler struct {
	m     sync.RWMutex
	h     log.Handler
	level log.Level
}

func (s *switchHandler) current() log.Handler {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.h
}

func (s *switchHandler) SetFormatter(f log.Formatter) { s.current().SetFormatter(f) }
func (s *switchHandler) SetLevel(l log.Level)         { SetLevel(l) }
func (s *switchHandler) Handle(rec *log.Record)       { s.current().Handle(rec) }
func (s *switchHandler) Close() error                 { return s.current().Close() }

type logFormatter struct{}

// Format outputs a message like "2024-02-28 18:15:57 INFO     [scanner] scanner.go:42 generated foo [OPS].torrent"
func (f logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %s %s",
		fmt.Sprint(rec.Time)[:19],
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
