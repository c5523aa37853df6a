// Package shop simulates a remote shop that quotes a price for a product.
package shop

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"bestprice/internal/latency"
	"bestprice/internal/pool"
	"bestprice/logger"
	"bestprice/models"
)

// DefaultLatency is the simulated round trip of one price lookup.
const DefaultLatency = time.Second

var errUnavailable = errors.New("shop temporarily unavailable")

// Shop answers price lookups after a simulated network delay. Prices are
// a pure function of (shop name, product); the only mutable state is the
// call counter feeding failure injection.
type Shop struct {
	name        string
	seed        int64
	delay       latency.Delayer
	withCodes   bool
	failureRate float64

	calls atomic.Uint64
	log   *logger.Entry
}

type Option func(*Shop)

func WithLatency(d latency.Delayer) Option {
	return func(s *Shop) {
		if d != nil {
			s.delay = d
		}
	}
}

// WithDiscountCodes makes GetPrice append a discount code to each quote.
func WithDiscountCodes(enabled bool) Option {
	return func(s *Shop) { s.withCodes = enabled }
}

// WithFailureRate makes roughly rate of all lookups fail with a temporary
// ServiceError. The sequence of failures is deterministic per shop.
func WithFailureRate(rate float64) Option {
	return func(s *Shop) { s.failureRate = rate }
}

func New(name string, opts ...Option) *Shop {
	s := &Shop{
		name:  name,
		seed:  nameSeed(name),
		delay: latency.Fixed(DefaultLatency),
		log:   logger.GetLogger().WithComponent("shop").WithFields(logger.Fields{"shop": name}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Shop) Name() string {
	return s.name
}

// GetPrice returns "name:price", or "name:price:CODE" when discount codes
// are enabled.
func (s *Shop) GetPrice(ctx context.Context, product string) (string, error) {
	price, code, err := s.quote(ctx, product)
	if err != nil {
		return "", err
	}

	raw := s.name + ":" + strconv.FormatFloat(price, 'f', 2, 64)
	if s.withCodes {
		raw += ":" + string(code)
	}
	return raw, nil
}

// CalculatePrice returns the bare price for product.
func (s *Shop) CalculatePrice(ctx context.Context, product string) (float64, error) {
	price, _, err := s.quote(ctx, product)
	return price, err
}

// PriceAsync starts CalculatePrice on p and returns immediately.
func (s *Shop) PriceAsync(ctx context.Context, p *pool.Pool, product string) *pool.Future[float64] {
	return pool.Async(ctx, p, func(ctx context.Context) (float64, error) {
		return s.CalculatePrice(ctx, product)
	})
}

func (s *Shop) quote(ctx context.Context, product string) (float64, models.DiscountCode, error) {
	start := time.Now()
	if err := s.delay.Delay(ctx); err != nil {
		return 0, "", err
	}

	call := s.calls.Add(1)
	if s.failureRate > 0 && s.shouldFail(product, call) {
		s.log.WithFields(logger.Fields{"product": product, "call": call}).Debug("injected failure")
		return 0, "", &models.ServiceError{Service: "shop", Shop: s.name, Err: errUnavailable, Temporary: true}
	}

	rng := rand.New(rand.NewSource(s.seed ^ productHash(product)))
	price := rng.Float64()*float64(byteAt(product, 0)) + float64(byteAt(product, 1))
	price = decimal.NewFromFloat(price).Round(2).InexactFloat64()

	codes := models.DiscountCodes()
	code := codes[rng.Intn(len(codes))]

	s.log.WithFields(logger.Fields{
		"product":     product,
		"price":       price,
		"code":        code,
		"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
	}).Debug("price calculated")
	return price, code, nil
}

func (s *Shop) shouldFail(product string, call uint64) bool {
	rng := rand.New(rand.NewSource(s.seed ^ productHash(product) ^ int64(call)))
	return rng.Float64() < s.failureRate
}

// nameSeed multiplies the first three bytes of the name; shorter names
// fall back to an FNV hash.
func nameSeed(name string) int64 {
	if len(name) >= 3 {
		return int64(name[0]) * int64(name[1]) * int64(name[2])
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

func productHash(product string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(product))
	return int64(h.Sum64())
}

func byteAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func (s *Shop) String() string {
	return fmt.Sprintf("Shop(%s)", s.name)
}
