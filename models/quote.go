package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DiscountCode is the tier a shop attaches to a quoted price.
type DiscountCode string

const (
	DiscountNone     DiscountCode = "NONE"
	DiscountSilver   DiscountCode = "SILVER"
	DiscountGold     DiscountCode = "GOLD"
	DiscountPlatinum DiscountCode = "PLATINUM"
	DiscountDiamond  DiscountCode = "DIAMOND"
)

var discountPercentages = map[DiscountCode]int{
	DiscountNone:     0,
	DiscountSilver:   5,
	DiscountGold:     10,
	DiscountPlatinum: 15,
	DiscountDiamond:  20,
}

// DiscountCodes lists every code in ascending percentage order.
func DiscountCodes() []DiscountCode {
	return []DiscountCode{DiscountNone, DiscountSilver, DiscountGold, DiscountPlatinum, DiscountDiamond}
}

// Percentage returns the price reduction for the code. Unknown codes reduce nothing.
func (c DiscountCode) Percentage() int {
	return discountPercentages[c]
}

// Valid reports whether c is one of the known codes.
func (c DiscountCode) Valid() bool {
	_, ok := discountPercentages[c]
	return ok
}

// ParseDiscountCode matches a code name case-insensitively.
func ParseDiscountCode(s string) (DiscountCode, error) {
	code := DiscountCode(strings.ToUpper(strings.TrimSpace(s)))
	if !code.Valid() {
		return "", fmt.Errorf("unknown discount code %q", s)
	}
	return code, nil
}

// Quote is the parsed form of a raw "shop:price[:code]" string.
type Quote struct {
	ShopName     string       `json:"shop_name"`
	Price        float64      `json:"price"`
	DiscountCode DiscountCode `json:"discount_code"`
}

// ParseQuote parses a raw shop answer. A missing code means DiscountNone.
func ParseQuote(raw string) (Quote, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Quote{}, &ParseError{Input: raw, Reason: fmt.Sprintf("expected 2 or 3 fields, got %d", len(parts))}
	}

	name := strings.TrimSpace(parts[0])
	if name == "" {
		return Quote{}, &ParseError{Input: raw, Reason: "empty shop name"}
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Quote{}, &ParseError{Input: raw, Reason: "invalid price", Err: err}
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Quote{}, &ParseError{Input: raw, Reason: "invalid price"}
	}

	code := DiscountNone
	if len(parts) == 3 {
		code, err = ParseDiscountCode(parts[2])
		if err != nil {
			return Quote{}, &ParseError{Input: raw, Reason: "invalid discount code", Err: err}
		}
	}

	return Quote{ShopName: name, Price: price, DiscountCode: code}, nil
}

// String renders the quote back into its wire form.
func (q Quote) String() string {
	return fmt.Sprintf("%s:%s:%s", q.ShopName, strconv.FormatFloat(q.Price, 'f', 2, 64), q.DiscountCode)
}
