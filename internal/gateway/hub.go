package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"candles-ema/internal/model"

	"github.com/gorilla/websocket"
)

// Hub keeps the latest version of every series in memory and fans
// updates out to WebSocket clients. It implements model.SeriesPublisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// OnClients is called with the client count after every (dis)connect (optional).
	OnClients func(n int)
	// OnDrop is called when a slow client misses a message (optional).
	OnDrop func()

	Broadcaster *Broadcaster
}

var (
	_ model.SeriesPublisher = (*Hub)(nil)
	_ model.SeriesReader    = (*Hub)(nil)
)

type latestEntry struct {
	Series *model.Series
	Data   json.RawMessage
	TS     time.Time
	Seq    int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// PublishSeries stores s as the latest version of its key and broadcasts it.
func (h *Hub) PublishSeries(_ context.Context, s *model.Series) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	h.Broadcaster.Broadcast(s, data)
	return nil
}

// Series returns the latest in-memory series for (symbol, period).
func (h *Hub) Series(symbol string, period int64) (*model.Series, bool) {
	key := (&model.Series{Symbol: symbol, Period: period}).Key()
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[key]
	if !ok {
		return nil, false
	}
	return e.Series, true
}

// ReadSeries adapts Series to model.SeriesReader.
func (h *Hub) ReadSeries(_ context.Context, symbol string, period int64) (*model.Series, error) {
	s, _ := h.Series(symbol, period)
	return s, nil
}

// List returns a summary of every series held, ordered by key.
func (h *Hub) List() []SeriesInfo {
	h.mu.RLock()
	out := make([]SeriesInfo, 0, len(h.latest))
	for key, e := range h.latest {
		out = append(out, SeriesInfo{
			Key:       key,
			Symbol:    e.Series.Symbol,
			Period:    e.Series.Period,
			Length:    e.Series.Length,
			Rows:      len(e.Series.Rows),
			Seq:       e.Seq,
			UpdatedAt: e.TS.Format(time.RFC3339Nano),
		})
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
// Series updated after lastSeq are sent as the initial snapshot.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastSeq int64) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.OnClients != nil {
		h.OnClients(count)
	}

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(lastSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.OnClients != nil {
		h.OnClients(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.RemoveClient(c)
	}
}
