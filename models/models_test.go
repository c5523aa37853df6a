package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseQuote(t *testing.T) {
	q, err := ParseQuote("BestPrice:123.45")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.ShopName != "BestPrice" || q.Price != 123.45 || q.DiscountCode != DiscountNone {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestParseQuoteWithCode(t *testing.T) {
	q, err := ParseQuote("BuyItAll:99.9:gold")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.DiscountCode != DiscountGold {
		t.Fatalf("expected GOLD, got %s", q.DiscountCode)
	}
	if q.String() != "BuyItAll:99.90:GOLD" {
		t.Fatalf("unexpected string form: %s", q.String())
	}
}

func TestParseQuoteErrors(t *testing.T) {
	cases := []string{
		"bad",
		"",
		":12.0",
		"Shop:abc",
		"x:NaN",
		"x:Inf",
		"x:-Inf",
		"x:+inf:GOLD",
		"Shop:1.0:BRONZE",
		"Shop:1.0:GOLD:extra",
	}
	for _, raw := range cases {
		_, err := ParseQuote(raw)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("ParseQuote(%q): expected ParseError, got %v", raw, err)
		}
	}
}

func TestDiscountPercentages(t *testing.T) {
	want := map[DiscountCode]int{
		DiscountNone:     0,
		DiscountSilver:   5,
		DiscountGold:     10,
		DiscountPlatinum: 15,
		DiscountDiamond:  20,
	}
	for _, c := range DiscountCodes() {
		if got := c.Percentage(); got != want[c] {
			t.Errorf("%s: expected %d got %d", c, want[c], got)
		}
	}
	if DiscountCode("BRONZE").Valid() {
		t.Errorf("unexpected valid code BRONZE")
	}
}

func TestIsTemporary(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"parse", &ParseError{Input: "x", Reason: "bad"}, false},
		{"timeout", fmt.Errorf("shop: %w", ErrTimeout), true},
		{"temporary", &ServiceError{Service: "shop", Shop: "A", Err: errors.New("boom"), Temporary: true}, true},
		{"permanent", &ServiceError{Service: "shop", Shop: "A", Err: errors.New("boom")}, false},
		{"wrapped timeout", &ServiceError{Service: "discount", Shop: "A", Err: ErrTimeout}, true},
	}
	for _, c := range cases {
		if got := IsTemporary(c.err); got != c.want {
			t.Errorf("%s: expected %v got %v", c.name, c.want, got)
		}
	}
}
