package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"candles-ema/internal/model"
)

// Broadcaster constructs envelope JSON and sends it to subscribed clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast records s as the latest version of its key and fans the
// envelope out. data is the JSON encoding of s.
func (b *Broadcaster) Broadcast(s *model.Series, data []byte) {
	key := s.Key()
	now := time.Now().UTC()

	b.hub.mu.Lock()
	b.hub.seq++
	seq := b.hub.seq
	b.hub.latest[key] = latestEntry{Series: s, Data: data, TS: now, Seq: seq}
	b.hub.mu.Unlock()

	buf := buildEnvelope(key, data, now, seq, false)

	dropped := 0
	b.hub.mu.RLock()
	for client := range b.hub.clients {
		if !client.wants(key) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			dropped++
		}
	}
	b.hub.mu.RUnlock()

	if b.hub.OnDrop != nil {
		for i := 0; i < dropped; i++ {
			b.hub.OnDrop()
		}
	}
}

// buildEnvelope hand-crafts {"type":"series","key":...,"data":...,"ts":...,"seq":N}
// around an already encoded payload.
func buildEnvelope(key string, data []byte, ts time.Time, seq int64, initial bool) []byte {
	buf := make([]byte, 0, len(key)+len(data)+128)
	quoted, _ := json.Marshal(key)
	buf = append(buf, `{"type":"series","key":`...)
	buf = append(buf, quoted...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}
