package gateway

import (
	"context"
	"encoding/json"
	"log"

	"candles-ema/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// notice mirrors the payload published next to every stored series.
type notice struct {
	Key    string `json:"key"`
	Symbol string `json:"symbol"`
	Period int64  `json:"period"`
	Rows   int    `json:"rows"`
	LastTS int64  `json:"last_ts"`
}

// seen reports whether the hub already holds the announced version.
func (n notice) seen(s *model.Series) bool {
	return len(s.Rows) == n.Rows && (n.Rows == 0 || s.Rows[n.Rows-1].TS == n.LastTS)
}

// PubSubRouter relays series published to Redis by other processes
// (e.g. the one-shot CLI) into the hub.
type PubSubRouter struct {
	rdb    *goredis.Client
	source model.SeriesReader
	hub    *Hub
}

// NewPubSubRouter creates a router that loads announced series from source.
func NewPubSubRouter(rdb *goredis.Client, source model.SeriesReader, hub *Hub) *PubSubRouter {
	return &PubSubRouter{rdb: rdb, source: source, hub: hub}
}

// Run subscribes to every series channel. Blocks until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) {
	pubsub := r.rdb.PSubscribe(ctx, "pub:series:*")
	defer pubsub.Close()

	log.Printf("[gateway] relaying redis series notices")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (r *PubSubRouter) handle(ctx context.Context, payload []byte) {
	var n notice
	if err := json.Unmarshal(payload, &n); err != nil || n.Symbol == "" || n.Period <= 0 {
		log.Printf("[gateway] ignoring malformed notice: %s", payload)
		return
	}
	// our own publishes come back through redis
	if cur, ok := r.hub.Series(n.Symbol, n.Period); ok && n.seen(cur) {
		return
	}
	s, err := r.source.ReadSeries(ctx, n.Symbol, n.Period)
	if err != nil {
		log.Printf("[gateway] load %s: %v", n.Key, err)
		return
	}
	if s == nil {
		return
	}
	r.hub.PublishSeries(ctx, s)
}
