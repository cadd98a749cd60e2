// Package gatewaylog is a thin wrapper around the standard library's log
// package: every component logs through log.Printf/log.Fatalf with a
// bracketed component prefix (e.g. "[turn] thread %s not loaded: %v"),
// not a structured logging library. See DESIGN.md for why this is one of
// the few bare-stdlib choices in the module.
package gatewaylog

import (
	"log"
	"os"
)

// Logger is a log.Logger scoped to one component, writing lines prefixed
// with "[component] ".
type Logger struct {
	*log.Logger
}

// New returns a Logger for the named component, writing to stderr with
// the standard date/time flags.
func New(component string) *Logger {
	return &Logger{log.New(os.Stderr, "["+component+"] ", log.LstdFlags)}
}
