package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"candles-ema/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReadSeries loads a published series. Returns nil, nil if the key is missing or expired.
func (w *Writer) ReadSeries(ctx context.Context, symbol string, period int64) (*model.Series, error) {
	key := SeriesKey(symbol, period)
	raw, err := w.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}

	var s model.Series
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return &s, nil
}

// Keys returns the sorted keys of all published series.
// Keys whose values have expired are still listed until the index is rebuilt.
func (w *Writer) Keys(ctx context.Context) ([]string, error) {
	members, err := w.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis SMEMBERS %s: %w", indexKey, err)
	}
	sort.Strings(members)
	return members, nil
}
