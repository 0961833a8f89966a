// Package elog is a namespace-filtered debug logger, adapted from the
// debug(1)-style loggers common to Engine.IO implementations: each
// subsystem gets its own namespace ("engine:socket", "engine:polling", ...)
// and output is gated by the DEBUG environment variable, which is matched
// against the namespace as a glob (`*` wildcards) compiled to a regexp.
package elog

import (
	"log"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/gookit/color"
)

var (
	mu              sync.Mutex
	namespaceRegexp *regexp.Regexp
	compiledFor     string
)

// Enabled reports whether DEBUG currently matches namespace.
func Enabled(namespace string) bool {
	pattern := os.Getenv("DEBUG")
	if pattern == "" {
		return false
	}

	mu.Lock()
	defer mu.Unlock()
	if compiledFor != pattern {
		quoted := regexp.QuoteMeta(strings.TrimSpace(pattern))
		quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
		namespaceRegexp = regexp.MustCompile("^" + quoted + "$")
		compiledFor = pattern
	}
	return namespaceRegexp.MatchString(namespace)
}

// Logger emits colorized, namespace-gated debug lines for one subsystem.
type Logger struct {
	namespace string
	std       *log.Logger
}

// New returns a Logger for the given namespace, e.g. "engine:socket".
func New(namespace string) *Logger {
	return &Logger{
		namespace: namespace,
		std:       log.New(os.Stderr, namespace+" ", 0),
	}
}

// Debug logs a debug-colored line when DEBUG matches this logger's
// namespace; otherwise it is a no-op, so callers may call it unconditionally
// on hot paths.
func (l *Logger) Debug(format string, args ...any) {
	if !Enabled(l.namespace) {
		return
	}
	l.std.Println(color.Debug.Sprintf(format, args...))
}

// Error logs an error-colored line unconditionally.
func (l *Logger) Error(format string, args ...any) {
	l.std.Println(color.Danger.Sprintf(format, args...))
}
