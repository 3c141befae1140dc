package gateway

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"candles-ema/internal/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed series keys ("symbol:{period}s"). Until the first
	// SUBSCRIBE the client receives every series.
	subMu    sync.RWMutex
	subs     map[string]bool
	filtered bool
}

// SubscribeMsg selects a series. Sent as {"type":"SUBSCRIBE",...} or "UNSUBSCRIBE".
type SubscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Period int64  `json:"period"`
	ReqID  string `json:"req_id,omitempty"`
}

func (c *Client) wants(key string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return !c.filtered || c.subs[key]
}

// trySend queues msg unless the client is gone or its buffer is full.
func (c *Client) trySend(msg []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// sendInitialState queues every series the client wants that changed after lastSeq,
// oldest first.
func (c *Client) sendInitialState(lastSeq int64) {
	c.hub.mu.RLock()
	entries := make([]latestEntry, 0, len(c.hub.latest))
	for key, e := range c.hub.latest {
		if e.Seq <= lastSeq || !c.wants(key) {
			continue
		}
		entries = append(entries, e)
	}
	c.hub.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	for _, e := range entries {
		c.trySend(buildEnvelope(e.Series.Key(), e.Data, e.TS, e.Seq, true))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE", "UNSUBSCRIBE":
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil || sub.Symbol == "" || sub.Period <= 0 {
				c.sendError(sub.ReqID, "symbol and period are required")
				continue
			}
			c.handleSubscribe(sub)
		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.trySend(pong)
			}
		}
	}
}

func (c *Client) handleSubscribe(msg SubscribeMsg) {
	key := (&model.Series{Symbol: msg.Symbol, Period: msg.Period}).Key()

	c.subMu.Lock()
	if msg.Type == "UNSUBSCRIBE" {
		delete(c.subs, key)
	} else {
		c.subs[key] = true
		c.filtered = true
	}
	c.subMu.Unlock()

	ack, _ := json.Marshal(map[string]interface{}{
		"type":   "ack",
		"req_id": msg.ReqID,
		"key":    key,
		"action": msg.Type,
	})
	c.trySend(ack)

	if msg.Type != "SUBSCRIBE" {
		log.Printf("[gateway] client unsubscribed: %s", key)
		return
	}
	log.Printf("[gateway] client subscribed: %s", key)

	c.hub.mu.RLock()
	e, ok := c.hub.latest[key]
	c.hub.mu.RUnlock()
	if ok {
		c.trySend(buildEnvelope(key, e.Data, e.TS, e.Seq, true))
	}
}

func (c *Client) sendError(reqID, msg string) {
	b, _ := json.Marshal(map[string]string{"type": "error", "req_id": reqID, "error": msg})
	c.trySend(b)
}
