// Package latency simulates the network delay of remote calls.
package latency

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Delayer blocks for the duration of one simulated remote call. It returns
// ctx.Err() when the context ends first.
type Delayer interface {
	Delay(ctx context.Context) error
}

// None never waits.
type None struct{}

func (None) Delay(ctx context.Context) error {
	return ctx.Err()
}

// Fixed waits for the same duration on every call.
type Fixed time.Duration

func (f Fixed) Delay(ctx context.Context) error {
	return sleep(ctx, time.Duration(f))
}

// Random waits for a uniformly drawn duration in [Min, Max].
type Random struct {
	Min time.Duration
	Max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(min, max time.Duration, seed int64) *Random {
	return &Random{Min: min, Max: max, rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Delay(ctx context.Context) error {
	return sleep(ctx, r.next())
}

func (r *Random) next() time.Duration {
	span := r.Max - r.Min
	if span <= 0 {
		return r.Min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r.Min + time.Duration(r.rng.Int63n(int64(span)+1))
}

// New builds a Delayer from a mode name as used in configuration.
func New(mode string, fixed, min, max time.Duration) (Delayer, error) {
	switch strings.ToLower(mode) {
	case "", "none":
		return None{}, nil
	case "fixed":
		return Fixed(fixed), nil
	case "random":
		return NewRandom(min, max, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown latency mode '%s'", mode)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
