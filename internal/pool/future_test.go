package pool

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestAsyncAwait(t *testing.T) {
	p := New(2)
	defer p.Close()

	f := Async(context.Background(), p, func(context.Context) (int, error) { return 42, nil })
	v, err := f.Await(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	defer close(release)
	f := Async(context.Background(), p, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestThenComposeChain(t *testing.T) {
	p := New(2)
	defer p.Close()
	ctx := context.Background()

	fetched := Async(ctx, p, func(context.Context) (string, error) { return "21", nil })
	parsed := Then(fetched, strconv.Atoi)
	doubled := Compose(ctx, p, parsed, func(_ context.Context, n int) (int, error) { return n * 2, nil })

	v, err := doubled.Await(ctx)
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestErrorsSkipLaterStages(t *testing.T) {
	p := New(1)
	defer p.Close()
	ctx := context.Background()

	sentinel := errors.New("fetch failed")
	calls := 0
	f := Async(ctx, p, func(context.Context) (string, error) { return "", sentinel })
	g := Then(f, func(s string) (int, error) { calls++; return len(s), nil })
	h := Compose(ctx, p, g, func(_ context.Context, n int) (int, error) { calls++; return n, nil })

	if _, err := h.Await(ctx); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("later stages ran %d times", calls)
	}
}

func TestParseErrorPropagates(t *testing.T) {
	p := New(1)
	defer p.Close()
	ctx := context.Background()

	f := Then(Async(ctx, p, func(context.Context) (string, error) { return "nope", nil }), strconv.Atoi)
	var numErr *strconv.NumError
	if _, err := f.Await(ctx); !errors.As(err, &numErr) {
		t.Fatalf("expected NumError, got %v", err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	p := New(1)
	defer p.Close()
	ctx := context.Background()

	f := Async(ctx, p, func(context.Context) (int, error) { panic("boom") })
	if _, err := f.Await(ctx); !errors.Is(err, ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}

	g := Then(Completed(1, nil), func(int) (int, error) { panic("again") })
	if _, err := g.Await(ctx); !errors.Is(err, ErrPanic) {
		t.Fatalf("expected ErrPanic from Then, got %v", err)
	}
}

func TestAsyncOnClosedPool(t *testing.T) {
	p := New(1)
	p.Close()

	f := Async(context.Background(), p, func(context.Context) (int, error) { return 1, nil })
	if _, err := f.Await(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestComposeDoesNotDeadlockOnSmallPool(t *testing.T) {
	// one worker: the second stage can only run after the first returns
	p := New(1)
	defer p.Close()
	ctx := context.Background()

	futures := make([]*Future[int], 4)
	for i := range futures {
		i := i
		first := Async(ctx, p, func(context.Context) (int, error) { return i, nil })
		futures[i] = Compose(ctx, p, first, func(_ context.Context, n int) (int, error) { return n + 10, nil })
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	vals, errs := AwaitAll(waitCtx, futures)
	for i := range futures {
		if errs[i] != nil || vals[i] != i+10 {
			t.Fatalf("future %d: %d, %v", i, vals[i], errs[i])
		}
	}
}
