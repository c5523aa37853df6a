package finder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bestprice/models"
)

// Result is the outcome for one shop. Exactly one of Text and Err is set.
type Result struct {
	Shop  string
	Raw   string
	Quote models.Quote
	Text  string
	Err   error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s error: %v", r.Shop, r.Err)
	}
	return r.Text
}

// Results are index-aligned with the finder's shop list.
type Results []Result

func (rs Results) Strings() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}

// String renders the results as "[a, b, c]".
func (rs Results) String() string {
	return "[" + strings.Join(rs.Strings(), ", ") + "]"
}

func (rs Results) Failed() int {
	n := 0
	for _, r := range rs {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Err joins the per-shop failures, or returns nil when every shop succeeded.
func (rs Results) Err() error {
	var errs []error
	for _, r := range rs {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Shop, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Run records one findPrices invocation.
type Run struct {
	ID         string
	Strategy   Strategy
	Product    string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    Results
}

func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
