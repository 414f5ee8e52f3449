package logging

import (
	"strings"
	"sync/atomic"
)

var levelRank = map[string]int32{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

var minLevel atomic.Int32

func init() {
	minLevel.Store(levelRank["info"])
}

// SetLevel sets the minimum level written by leveled loggers. Unknown
// names fall back to info.
func SetLevel(level string) {
	rank, ok := levelRank[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		rank = levelRank["info"]
	}
	minLevel.Store(rank)
}

func Enabled(level string) bool {
	rank, ok := levelRank[strings.ToLower(level)]
	if !ok {
		return true
	}
	return rank >= minLevel.Load()
}
