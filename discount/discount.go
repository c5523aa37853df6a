// Package discount simulates the remote service that applies a quote's
// discount code.
package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bestprice/internal/latency"
	"bestprice/logger"
	"bestprice/models"
)

// DefaultLatency is the simulated round trip of one discount call.
const DefaultLatency = time.Second

var hundred = decimal.NewFromInt(100)

// Apply returns price reduced by code's percentage, rounded half away from
// zero to two decimals.
func Apply(price float64, code models.DiscountCode) float64 {
	pct := decimal.NewFromInt(int64(code.Percentage()))
	return decimal.NewFromFloat(price).
		Mul(hundred.Sub(pct)).
		Div(hundred).
		Round(2).
		InexactFloat64()
}

// Service is the remote discount endpoint.
type Service struct {
	delay latency.Delayer
	log   *logger.Entry
}

func NewService(delay latency.Delayer) *Service {
	if delay == nil {
		delay = latency.Fixed(DefaultLatency)
	}
	return &Service{
		delay: delay,
		log:   logger.GetLogger().WithComponent("discount"),
	}
}

// ApplyDiscount waits for the simulated call and returns
// "{shop} price is {discounted}".
func (s *Service) ApplyDiscount(ctx context.Context, q models.Quote) (string, error) {
	if err := s.delay.Delay(ctx); err != nil {
		return "", err
	}

	discounted := Apply(q.Price, q.DiscountCode)
	s.log.WithFields(logger.Fields{
		"shop":       q.ShopName,
		"price":      q.Price,
		"code":       q.DiscountCode,
		"discounted": discounted,
	}).Debug("discount applied")

	return fmt.Sprintf("%s price is %.2f", q.ShopName, discounted), nil
}
