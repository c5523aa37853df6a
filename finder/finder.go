// Package finder queries a set of shops for a product and applies each
// shop's discount, using one of three scheduling strategies.
package finder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"bestprice/internal/metrics"
	"bestprice/internal/pool"
	"bestprice/internal/retry"
	"bestprice/logger"
	"bestprice/models"
)

// DefaultStageTimeout bounds every remote call unless WithTimeout says otherwise.
const DefaultStageTimeout = 5 * time.Second

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrClosed          = errors.New("finder closed")
	ErrEmptyProduct    = errors.New("product must not be empty")
)

// PriceSource is a shop that quotes "name:price[:code]" for a product.
type PriceSource interface {
	Name() string
	GetPrice(ctx context.Context, product string) (string, error)
}

// Discounter applies a quote's discount code remotely.
type Discounter interface {
	ApplyDiscount(ctx context.Context, q models.Quote) (string, error)
}

// Finder owns the worker pool it is given and releases it on Close.
type Finder struct {
	shops      []PriceSource
	discounter Discounter
	pool       *pool.Pool

	timeout  time.Duration
	retry    retry.Policy
	limiters []*rate.Limiter

	log    *logger.Log
	closed atomic.Bool
}

type Option func(*Finder)

// WithTimeout sets the deadline of each remote call. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(f *Finder) { f.timeout = d }
}

func WithRetry(p retry.Policy) Option {
	return func(f *Finder) { f.retry = p }
}

// WithRateLimit caps lookups per shop with a token bucket. A non-positive
// rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *Finder) {
		if perSecond <= 0 {
			f.limiters = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiters = make([]*rate.Limiter, len(f.shops))
		for i := range f.limiters {
			f.limiters[i] = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithLogger(log *logger.Log) Option {
	return func(f *Finder) {
		if log != nil {
			f.log = log
		}
	}
}

func New(shops []PriceSource, discounter Discounter, p *pool.Pool, opts ...Option) (*Finder, error) {
	if len(shops) == 0 {
		return nil, fmt.Errorf("finder needs at least one shop")
	}
	if discounter == nil {
		return nil, fmt.Errorf("finder needs a discount service")
	}
	if p == nil {
		return nil, fmt.Errorf("finder needs a worker pool")
	}

	f := &Finder{
		shops:      shops,
		discounter: discounter,
		pool:       p,
		timeout:    DefaultStageTimeout,
		retry:      retry.Once,
		log:        logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Shops returns the shop names in query order.
func (f *Finder) Shops() []string {
	names := make([]string, len(f.shops))
	for i, s := range f.shops {
		names[i] = s.Name()
	}
	return names
}

// FindPrices runs strategy for product and returns one result per shop in
// shop order. Per-shop failures are inside the results; the error is only
// set for caller mistakes.
func (f *Finder) FindPrices(ctx context.Context, strategy Strategy, product string) (Results, error) {
	run, err := f.Execute(ctx, strategy, product)
	if err != nil {
		return nil, err
	}
	return run.Results, nil
}

// Execute is FindPrices plus the run's id and timing, and reports the run
// to the metrics sink.
func (f *Finder) Execute(ctx context.Context, strategy Strategy, product string) (*Run, error) {
	if err := f.check(product); err != nil {
		return nil, err
	}

	var find func(context.Context, string) Results
	switch strategy {
	case Sequential:
		find = f.findSequential
	case Concurrent:
		find = f.findConcurrent
	case Pipelined:
		find = f.findPipelined
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownStrategy, strategy)
	}

	run := &Run{
		ID:        uuid.NewString(),
		Strategy:  strategy,
		Product:   product,
		StartedAt: time.Now().UTC(),
	}
	log := f.log.WithComponent("finder").WithFields(logger.Fields{
		"run_id":   run.ID,
		"strategy": string(strategy),
		"product":  product,
	})
	log.Debug("finding prices")

	run.Results = find(ctx, product)
	run.FinishedAt = time.Now().UTC()

	metrics.ReportFinder(f.log, metrics.FinderStats{
		Strategy:    string(strategy),
		Product:     product,
		Shops:       len(run.Results),
		Failed:      run.Results.Failed(),
		Duration:    run.Duration(),
		PoolSize:    f.pool.Size(),
		PoolPending: f.pool.Pending(),
	})
	if err := run.Results.Err(); err != nil {
		log.WithError(err).Warn("some shops failed")
	}
	return run, nil
}

// FindPricesSequential queries the shops one after another.
func (f *Finder) FindPricesSequential(ctx context.Context, product string) (Results, error) {
	return f.FindPrices(ctx, Sequential, product)
}

// FindPricesConcurrent runs one full pipeline per shop in parallel, at most
// pool size at a time.
func (f *Finder) FindPricesConcurrent(ctx context.Context, product string) (Results, error) {
	return f.FindPrices(ctx, Concurrent, product)
}

// FindPricesPipelined composes fetch, parse and discount as futures on the
// worker pool and joins them in shop order.
func (f *Finder) FindPricesPipelined(ctx context.Context, product string) (Results, error) {
	return f.FindPrices(ctx, Pipelined, product)
}

// Close rejects further lookups and shuts the worker pool down once queued
// stages have drained.
func (f *Finder) Close() {
	if f.closed.Swap(true) {
		return
	}
	f.pool.Close()
}

func (f *Finder) check(product string) error {
	if f.closed.Load() {
		return ErrClosed
	}
	if strings.TrimSpace(product) == "" {
		return ErrEmptyProduct
	}
	return nil
}

func (f *Finder) findSequential(ctx context.Context, product string) Results {
	results := make(Results, len(f.shops))
	for i := range f.shops {
		results[i] = f.lookup(ctx, i, product)
	}
	return results
}

// findConcurrent runs each shop's pipeline on its own errgroup goroutine.
// The worker pool only bounds how many run at once; its workers are not used.
func (f *Finder) findConcurrent(ctx context.Context, product string) Results {
	results := make(Results, len(f.shops))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.pool.Size())
	for i := range f.shops {
		i := i
		g.Go(func() error {
			// failures stay in the slot so the group never cancels the others
			results[i] = f.lookup(gctx, i, product)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Finder) findPipelined(ctx context.Context, product string) Results {
	futures := make([]*pool.Future[Result], len(f.shops))
	for i := range f.shops {
		i := i
		name := f.shops[i].Name()
		fetched := pool.Async(ctx, f.pool, func(ctx context.Context) (string, error) {
			return f.fetch(ctx, i, product)
		})
		parsed := pool.Then(fetched, func(raw string) (Result, error) {
			q, err := models.ParseQuote(raw)
			if err != nil {
				return Result{}, err
			}
			return Result{Shop: name, Raw: raw, Quote: q}, nil
		})
		futures[i] = pool.Compose(ctx, f.pool, parsed, func(ctx context.Context, r Result) (Result, error) {
			text, err := f.discount(ctx, r.Quote)
			if err != nil {
				return Result{}, err
			}
			r.Text = text
			return r, nil
		})
	}

	results, errs := pool.AwaitAll(ctx, futures)
	for i, err := range errs {
		if err != nil {
			results[i] = Result{Shop: f.shops[i].Name(), Err: err}
		}
	}
	return results
}

// lookup runs the fetch, parse and discount stages for shop i on the
// calling goroutine.
func (f *Finder) lookup(ctx context.Context, i int, product string) Result {
	res := Result{Shop: f.shops[i].Name()}

	raw, err := f.fetch(ctx, i, product)
	if err != nil {
		res.Err = err
		return res
	}
	res.Raw = raw

	q, err := models.ParseQuote(raw)
	if err != nil {
		res.Err = err
		return res
	}
	res.Quote = q

	res.Text, res.Err = f.discount(ctx, q)
	return res
}

func (f *Finder) fetch(ctx context.Context, i int, product string) (string, error) {
	shop := f.shops[i]
	var raw string
	err := f.remote(ctx, "price", shop.Name(), func(ctx context.Context) error {
		if f.limiters != nil {
			if err := f.limiters[i].Wait(ctx); err != nil {
				// Wait refuses early when the next token lies past the deadline
				if ctx.Err() == nil {
					if _, ok := ctx.Deadline(); ok {
						return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
					}
				}
				return err
			}
		}
		var err error
		raw, err = shop.GetPrice(ctx, product)
		return err
	})
	return raw, err
}

func (f *Finder) discount(ctx context.Context, q models.Quote) (string, error) {
	var text string
	err := f.remote(ctx, "discount", q.ShopName, func(ctx context.Context) error {
		var err error
		text, err = f.discounter.ApplyDiscount(ctx, q)
		return err
	})
	return text, err
}

// remote runs one simulated network call under the stage deadline and the
// retry policy, and records its latency.
func (f *Finder) remote(ctx context.Context, stage, shop string, call func(context.Context) error) error {
	attempt := func(ctx context.Context) error {
		start := time.Now()
		err := f.withDeadline(ctx, stage, shop, call)
		logger.RecordStage(stage, time.Since(start), err != nil)
		return err
	}

	onRetry := func(n int, err error, wait time.Duration) {
		f.log.WithComponent("finder").WithError(err).WithFields(logger.Fields{
			"stage":   stage,
			"shop":    shop,
			"attempt": n,
			"wait_ms": wait.Milliseconds(),
		}).Warn("retrying remote call")
	}

	return retry.Do(ctx, f.retry, attempt, onRetry)
}

func (f *Finder) withDeadline(ctx context.Context, stage, shop string, call func(context.Context) error) error {
	callCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	err := call(callCtx)
	if err == nil {
		return nil
	}
	// the stage deadline fired while the caller is still waiting
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &models.ServiceError{
			Service:   stage,
			Shop:      shop,
			Err:       fmt.Errorf("%w after %v", models.ErrTimeout, f.timeout),
			Temporary: true,
		}
	}
	return err
}
