package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"market-observer/src/interfaces"
)

// -----------------------------------------------------------------------------
// RedisQuoteStore implements interfaces.QuoteStore on top of a go-redis
// UniversalClient (spec §6 "Persistence interface"): the latest quote per
// instrument under a SET key, and a capped sliding-window history under a
// per-instrument sorted set keyed by tick timestamp.
// -----------------------------------------------------------------------------

const (
	historyWindow    = 48 * time.Hour
	historyMaxMember = 100000
)

type RedisQuoteStore struct {
	client       redis.UniversalClient
	latestPrefix string
	historyPrefix string
	latestTTL    time.Duration
}

// -----------------------------------------------------------------------------

func NewRedisQuoteStore(client redis.UniversalClient) *RedisQuoteStore {
	return &RedisQuoteStore{
		client:        client,
		latestPrefix:  "quote:latest:",
		historyPrefix: "quote:history:",
		latestTTL:     24 * time.Hour,
	}
}

// -----------------------------------------------------------------------------

var _ interfaces.QuoteStore = (*RedisQuoteStore)(nil)

// -----------------------------------------------------------------------------

func (s *RedisQuoteStore) SaveLatest(ctx context.Context, instrumentID string, quoteJSON []byte) error {
	key := s.latestPrefix + instrumentID
	if err := s.client.Set(ctx, key, quoteJSON, s.latestTTL).Err(); err != nil {
		return fmt.Errorf("redis set latest %s: %w", instrumentID, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// AppendHistory adds one tick to instrumentID's sorted-set history. Once the
// set holds historyMaxMember entries or more, entries older than the 48h
// window are removed, and if it still exceeds historyMaxMember the oldest
// entries are removed down to that cap (spec §6).
func (s *RedisQuoteStore) AppendHistory(ctx context.Context, instrumentID string, timestampMs int64, quoteJSON []byte) error {
	key := s.historyPrefix + instrumentID

	if err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(timestampMs), Member: quoteJSON}).Err(); err != nil {
		return fmt.Errorf("redis zadd history %s: %w", instrumentID, err)
	}

	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis zcard history %s: %w", instrumentID, err)
	}
	if count < historyMaxMember {
		return nil
	}

	cutoff := timestampMs - historyWindow.Milliseconds()
	removed, err := s.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff)).Result()
	if err != nil {
		return fmt.Errorf("redis zremrangebyscore history %s: %w", instrumentID, err)
	}
	count -= removed
	if count > historyMaxMember {
		overflow := count - historyMaxMember
		if err := s.client.ZRemRangeByRank(ctx, key, 0, overflow-1).Err(); err != nil {
			return fmt.Errorf("redis trim history %s: %w", instrumentID, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *RedisQuoteStore) Close() error {
	return s.client.Close()
}
