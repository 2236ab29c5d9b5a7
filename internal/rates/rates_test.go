package rates

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateCachesWithinTTL(t *testing.T) {
	calls := 0
	c := New(func(context.Context) (map[string]float64, error) {
		calls++
		return map[string]float64{"USD": 60000}, nil
	}, time.Hour)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r, err := c.Rate(ctx, "USD")
		if err != nil {
			t.Fatalf("rate: %v", err)
		}
		if r != 60000 {
			t.Fatalf("rate: %v", r)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single fetch, got %d", calls)
	}
}

func TestRateRefreshesAfterInvalidate(t *testing.T) {
	calls := 0
	c := New(func(context.Context) (map[string]float64, error) {
		calls++
		return map[string]float64{"USD": float64(60000 + calls)}, nil
	}, time.Hour)

	ctx := context.Background()
	if _, err := c.Rate(ctx, "USD"); err != nil {
		t.Fatalf("rate: %v", err)
	}
	c.Invalidate()
	r, err := c.Rate(ctx, "USD")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if calls != 2 || r != 60002 {
		t.Fatalf("expected refetch, calls=%d rate=%v", calls, r)
	}
}

func TestRateFallsBackToLastKnown(t *testing.T) {
	calls := 0
	c := New(func(context.Context) (map[string]float64, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("upstream down")
		}
		return map[string]float64{"USD": 60000}, nil
	}, time.Hour)

	ctx := context.Background()
	if _, err := c.Rate(ctx, "USD"); err != nil {
		t.Fatalf("rate: %v", err)
	}
	c.Invalidate()
	r, err := c.Rate(ctx, "USD")
	if err != nil {
		t.Fatalf("stale fallback: %v", err)
	}
	if r != 60000 {
		t.Fatalf("expected last known rate, got %v", r)
	}
}

func TestRateUnknownCurrency(t *testing.T) {
	c := Fixed(map[string]float64{"USD": 60000})
	if _, err := c.Rate(context.Background(), "XYZ"); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}
}
