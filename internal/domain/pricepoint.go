package domain

import "github.com/shopspring/decimal"

// PricePoint is one sample of a token's price history.
type PricePoint struct {
	TimestampMs int64 // Unix timestamp in milliseconds
	Price       decimal.Decimal
}

// Anchor is a (time, price) reference point, used for the stagnation window.
type Anchor struct {
	TimestampMs int64
	Price       decimal.Decimal
}
