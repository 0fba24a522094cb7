package gateway

import (
	"math/rand/v2"
	"time"
)

const orderCodeSuffix = 1000

// NewOrderCode returns a positive code that fits the 53-bit integer range
// providers accept. The millisecond prefix keeps codes roughly time ordered.
func NewOrderCode(now time.Time) int64 {
	return now.UnixMilli()*orderCodeSuffix + rand.Int64N(orderCodeSuffix)
}

// OrderCodeTime recovers the creation instant encoded in a code.
func OrderCodeTime(code int64) time.Time {
	return time.UnixMilli(code / orderCodeSuffix).UTC()
}
