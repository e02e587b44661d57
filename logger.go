package gkel

import (
	"github.com/tendermint/tendermint/libs/log"
)

// Logger is the structured logger used across all packages.
type Logger = log.Logger

// DefaultLogger is used by components that were not given a logger. It
// discards everything.
var DefaultLogger Logger = log.NewNopLogger()

// LoggerOrDefault returns given logger or the default one if nil.
func LoggerOrDefault(l Logger) Logger {
	if l == nil {
		return DefaultLogger
	}
	return l
}
