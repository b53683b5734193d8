package p2p

import (
	"github.com/go-kit/log"

	"github.com/capmesh/peernet/internal/plog"
)

func newLogger(component string) log.Logger { return plog.New(component) }

func logDebug(l log.Logger, keyvals ...any) { plog.Debug(l, keyvals...) }
func logInfo(l log.Logger, keyvals ...any)  { plog.Info(l, keyvals...) }
func logWarn(l log.Logger, keyvals ...any)  { plog.Warn(l, keyvals...) }
func logError(l log.Logger, keyvals ...any) { plog.Error(l, keyvals...) }
