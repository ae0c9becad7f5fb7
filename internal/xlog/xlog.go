// Package xlog provides the structured, per-module loggers used across the
// indexer. It mirrors the teacher's log.NewModuleLogger convention (a
// package-level logger keyed by module name, key/value context on every
// call) on top of go.uber.org/zap — the teacher's own verified structured
// logger (api/debug/api.go references "zapLogger" and go.mod requires
// go.uber.org/zap directly; the concrete wrapper package that builds it
// wasn't part of the retrieved fragment, but the library choice is the
// teacher's, not this port's).
package xlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names used across the indexer, one per package that logs.
const (
	Indexer  = "indexer"
	Writer   = "writer"
	Preparer = "preparer"
	NodeClnt = "nodeclient"
	Migrate  = "migrate"
	Metrics  = "metrics"
	Notify   = "notify"
	Store    = "store"
	Cmd      = "cmd"
	Kafka    = "kafkamirror"
)

var level = zap.NewAtomicLevelAt(zap.InfoLevel)

var root = zap.New(zapcore.NewCore(
	zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
	zapcore.Lock(os.Stderr),
	level,
)).Sugar()

// Logger is a module-tagged logger, matching the teacher's
// log.NewModuleLogger(module).Info(msg, "k", v, ...) call shape on top of
// zap's SugaredLogger key/value variants.
type Logger struct {
	s *zap.SugaredLogger
}

// NewModuleLogger returns a logger tagged with the given module name, the
// same shape as every `var logger = log.NewModuleLogger(log.X)` call site in
// the teacher codebase.
func NewModuleLogger(module string) *Logger {
	return &Logger{s: root.With("module", module)}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }

// Crit logs at error severity and lets the caller decide how to terminate
// (every call site in this codebase follows Crit with its own os.Exit), so
// this deliberately does not call zap's process-exiting Fatalw.
func (l *Logger) Crit(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }

// SetLevel adjusts the verbosity of every module logger. Intended to be
// wired to a CLI flag such as --verbosity.
func SetLevel(lvl zapcore.Level) {
	level.SetLevel(lvl)
}
