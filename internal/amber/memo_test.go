package amber

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSource struct {
	priceCalls atomic.Int32
	usageCalls atomic.Int32
	err        error
}

func (s *countingSource) PricesCurrent(ctx context.Context, siteID string) ([]RawPrice, error) {
	s.priceCalls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []RawPrice{{Type: KindCurrent, StartTime: "2025-12-29T09:40:00Z", PerKwh: f64(20)}}, nil
}

func (s *countingSource) UsageRecent(ctx context.Context, siteID string, n int) ([]RawUsage, error) {
	s.usageCalls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []RawUsage{{StartTime: "2025-12-29T09:00:00Z", Kwh: f64(0.2)}}, nil
}

func TestMemoSharesResponses(t *testing.T) {
	src := &countingSource{}
	memo := NewMemo(src, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := memo.PricesCurrent(ctx, "site-1"); err != nil {
			t.Fatalf("PricesCurrent: %v", err)
		}
		if _, err := memo.UsageRecent(ctx, "site-1", 1); err != nil {
			t.Fatalf("UsageRecent: %v", err)
		}
	}
	if got := src.priceCalls.Load(); got != 1 {
		t.Errorf("price calls = %d, want 1", got)
	}
	if got := src.usageCalls.Load(); got != 1 {
		t.Errorf("usage calls = %d, want 1", got)
	}

	if _, err := memo.PricesCurrent(ctx, "site-2"); err != nil {
		t.Fatalf("PricesCurrent: %v", err)
	}
	if got := src.priceCalls.Load(); got != 2 {
		t.Errorf("price calls after new site = %d, want 2", got)
	}
}

func TestMemoDoesNotKeepErrors(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	memo := NewMemo(src, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := memo.PricesCurrent(context.Background(), "site-1"); err == nil {
			t.Fatal("expected error")
		}
	}
	if got := src.priceCalls.Load(); got != 2 {
		t.Errorf("price calls = %d, want 2", got)
	}
}

func TestMemoDisabled(t *testing.T) {
	src := &countingSource{}
	if got := NewMemo(src, 0); got != LiveSource(src) {
		t.Error("zero ttl should return the source unchanged")
	}
}
