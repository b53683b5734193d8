// Package plog is the shared go-kit/log setup for every component in
// this module: a logfmt logger to stderr, scoped with a "component" key,
// mirroring the teacher's SetLogger(l log.Logger) convention.
package plog

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New returns a logfmt logger tagged with component and a UTC timestamp.
func New(component string) log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	return log.With(l, "ts", log.DefaultTimestampUTC, "component", component)
}

func Debug(l log.Logger, keyvals ...any) { level.Debug(l).Log(keyvals...) }
func Info(l log.Logger, keyvals ...any)  { level.Info(l).Log(keyvals...) }
func Warn(l log.Logger, keyvals ...any)  { level.Warn(l).Log(keyvals...) }
func Error(l log.Logger, keyvals ...any) { level.Error(l).Log(keyvals...) }
