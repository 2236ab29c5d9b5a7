package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrNotFound is returned by reads of keys that were never written.
	ErrNotFound = errors.New("not found")
	// ErrConflict means an atomic update lost the optimistic race more
	// times than the retry bound allows. It is an internal failure, never
	// a business outcome.
	ErrConflict = errors.New("too many concurrent updates")
)

const defaultMaxRetries = 16

// Store is the durable key-value ledger. All balance and pot mutations go
// through AtomicUpdate / UpdateInt; invoices and payments use the plain
// JSON accessors because each has a single logical writer.
type Store struct {
	rdb        *redis.Client
	maxRetries int
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, maxRetries: defaultMaxRetries}
}

func NewWithRetries(rdb *redis.Client, maxRetries int) *Store {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Store{rdb: rdb, maxRetries: maxRetries}
}

// AtomicUpdate reads key, applies transform, and writes the result back
// only if the key was untouched in between (WATCH/MULTI/EXEC). On a lost
// race the whole cycle reruns, so transform must be pure; it may observe
// nil for an absent key. A transform error aborts without writing and is
// returned as-is.
func (s *Store) AtomicUpdate(ctx context.Context, key string, transform func(cur []byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == redis.Nil {
			cur = nil
		}
		next, err := transform(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrConflict
}

// UpdateInt is AtomicUpdate for integer-valued keys (balances, pots). An
// absent key reads as zero. Returns the value that was written.
func (s *Store) UpdateInt(ctx context.Context, key string, transform func(cur int64) (int64, error)) (int64, error) {
	var out int64
	err := s.AtomicUpdate(ctx, key, func(cur []byte) ([]byte, error) {
		var v int64
		if cur != nil {
			parsed, err := strconv.ParseInt(string(cur), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ledger: non-integer value at %s: %w", key, err)
			}
			v = parsed
		}
		next, err := transform(v)
		if err != nil {
			return nil, err
		}
		out = next
		return []byte(strconv.FormatInt(next, 10)), nil
	})
	return out, err
}

// UpdateJSON is AtomicUpdate for JSON records. transform receives the
// decoded record and mutates it in place; ErrNotFound if the key is absent.
func (s *Store) UpdateJSON(ctx context.Context, key string, v any, transform func() error) error {
	return s.AtomicUpdate(ctx, key, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		if err := json.Unmarshal(cur, v); err != nil {
			return nil, fmt.Errorf("ledger: decode %s: %w", key, err)
		}
		if err := transform(); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

func (s *Store) GetJSON(ctx context.Context, key string, v any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, data, 0).Err()
}

// SetNX writes key only if absent and reports whether it did. Used as the
// settlement dedup guard.
func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, 0).Result()
}

// SetJSONNX writes the record only if the key is absent and reports
// whether it did.
func (s *Store) SetJSONNX(ctx context.Context, key string, v any) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, key, data, 0).Result()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *Store) SetRaw(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

// Push prepends values to a list, newest first.
func (s *Store) Push(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.rdb.LPush(ctx, key, args...).Err()
}

func (s *Store) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}
