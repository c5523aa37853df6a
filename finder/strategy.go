package finder

import (
	"fmt"
	"strings"
)

// Strategy selects how the per-shop pipelines are scheduled.
type Strategy string

const (
	// Sequential queries one shop after the other.
	Sequential Strategy = "sequential"
	// Concurrent fans out one task per shop and waits for all of them.
	Concurrent Strategy = "concurrent"
	// Pipelined chains fetch, parse and discount as futures on the pool.
	Pipelined Strategy = "pipelined"
)

func Strategies() []Strategy {
	return []Strategy{Sequential, Concurrent, Pipelined}
}

func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Strategies() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownStrategy, s)
}

func (s Strategy) String() string {
	return string(s)
}
