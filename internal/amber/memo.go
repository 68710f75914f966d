package amber

import (
	"context"
	"fmt"
	"time"

	"github.com/viccon/sturdyc"
)

// LiveSource is the subset of the API used on the request path
type LiveSource interface {
	PricesCurrent(ctx context.Context, siteID string) ([]RawPrice, error)
	UsageRecent(ctx context.Context, siteID string, n int) ([]RawUsage, error)
}

const (
	memoCapacity           = 256
	memoShards             = 4
	memoEvictionPercentage = 10
)

// Memo shares live responses between requests arriving within ttl of each
// other. Concurrent misses for the same key are coalesced into one upstream
// call. Errors are never memoized.
type Memo struct {
	next   LiveSource
	prices *sturdyc.Client[[]RawPrice]
	usage  *sturdyc.Client[[]RawUsage]
}

// NewMemo wraps next. A non-positive ttl returns next unchanged.
func NewMemo(next LiveSource, ttl time.Duration) LiveSource {
	if ttl <= 0 {
		return next
	}
	return &Memo{
		next:   next,
		prices: sturdyc.New[[]RawPrice](memoCapacity, memoShards, ttl, memoEvictionPercentage),
		usage:  sturdyc.New[[]RawUsage](memoCapacity, memoShards, ttl, memoEvictionPercentage),
	}
}

// PricesCurrent implements LiveSource
func (m *Memo) PricesCurrent(ctx context.Context, siteID string) ([]RawPrice, error) {
	return m.prices.GetOrFetch(ctx, "prices:"+siteID, func(ctx context.Context) ([]RawPrice, error) {
		return m.next.PricesCurrent(ctx, siteID)
	})
}

// UsageRecent implements LiveSource
func (m *Memo) UsageRecent(ctx context.Context, siteID string, n int) ([]RawUsage, error) {
	key := fmt.Sprintf("usage:%s:%d", siteID, n)
	return m.usage.GetOrFetch(ctx, key, func(ctx context.Context) ([]RawUsage, error) {
		return m.next.UsageRecent(ctx, siteID, n)
	})
}
