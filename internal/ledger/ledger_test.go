package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewWithRetries(rdb, 256)
}

func TestUpdateIntAbsentReadsZero(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	got, err := s.UpdateInt(ctx, "balance:alice", func(cur int64) (int64, error) {
		if cur != 0 {
			t.Fatalf("expected absent key to read 0, got %d", cur)
		}
		return cur + 42, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestUpdateIntTransformErrorAborts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.UpdateInt(ctx, "balance:bob", func(int64) (int64, error) {
		return 100, nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("insufficient funds")
	_, err := s.UpdateInt(ctx, "balance:bob", func(cur int64) (int64, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected transform error, got %v", err)
	}

	v, err := s.GetInt(ctx, "balance:bob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 100 {
		t.Fatalf("aborted update must not write, got %d", v)
	}
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := s.UpdateInt(ctx, "pot:party", func(cur int64) (int64, error) {
					return cur + 1, nil
				}); err != nil {
					t.Errorf("update: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, err := s.GetInt(ctx, "pot:party")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != workers*perWorker {
		t.Fatalf("lost updates: expected %d, got %d", workers*perWorker, v)
	}
}

func TestSetNXGuardsOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	key := CreditGuardKey("hash", "txid:0")
	ok, err := s.SetNX(ctx, key, "p1")
	if err != nil || !ok {
		t.Fatalf("first SetNX should win: ok=%v err=%v", ok, err)
	}
	ok, err = s.SetNX(ctx, key, "p2")
	if err != nil {
		t.Fatalf("second SetNX: %v", err)
	}
	if ok {
		t.Fatal("second SetNX must not win")
	}

	raw, err := s.GetRaw(ctx, key)
	if err != nil {
		t.Fatalf("get guard: %v", err)
	}
	if string(raw) != "p1" {
		t.Fatalf("guard should keep first value, got %q", raw)
	}
}

func TestPushRangeNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	key := PaymentsKey("alice")
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Push(ctx, key, id); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	ids, err := s.Range(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := []string{"c", "b", "a"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestGetJSONMissing(t *testing.T) {
	s := newStore(t)

	var v map[string]any
	err := s.GetJSON(context.Background(), InvoiceKey("nope"), &v)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
