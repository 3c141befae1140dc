// Package gateway serves computed series to chart clients over REST and WebSocket.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"candles-ema/internal/model"
	"candles-ema/internal/period"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Routes holds the dependencies of the HTTP surface.
type Routes struct {
	Hub     *Hub
	Periods *period.Table

	// Fallback is consulted when the hub has no copy of a series (optional).
	Fallback model.SeriesReader
	// Health serves /healthz and Metrics serves /metrics (optional).
	Health  http.Handler
	Metrics http.Handler
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, rt Routes) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)
		rt.Hub.HandleWSRequest(conn, lastSeq)
	})

	mux.HandleFunc("/api/v1/series", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "symbol is required"})
			return
		}
		p, err := resolvePeriod(rt.Periods, r.URL.Query().Get("period"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		s, ok := rt.Hub.Series(symbol, p)
		if !ok && rt.Fallback != nil {
			s, err = rt.Fallback.ReadSeries(r.Context(), symbol, p)
			if err != nil {
				log.Printf("[gateway] fallback read %s/%d: %v", symbol, p, err)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "series lookup failed"})
				return
			}
		}
		if s == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "series not found"})
			return
		}
		writeJSON(w, http.StatusOK, s)
	})

	mux.HandleFunc("/api/v1/series/list", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, http.StatusOK, rt.Hub.List())
	})

	mux.HandleFunc("/api/v1/periods", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		marks := rt.Periods.Marks()
		out := make([]PeriodInfo, len(marks))
		for i, m := range marks {
			out[i].Mark = m
			out[i].Seconds, _ = rt.Periods.Seconds(m)
		}
		writeJSON(w, http.StatusOK, out)
	})

	if rt.Health != nil {
		mux.Handle("/healthz", rt.Health)
	}
	if rt.Metrics != nil {
		mux.Handle("/metrics", rt.Metrics)
	}
}

// resolvePeriod accepts a mark from the table ("5m") or a positive number of seconds.
func resolvePeriod(t *period.Table, v string) (int64, error) {
	if v == "" {
		return 0, errString("period is required")
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n <= 0 {
			return 0, errString("period must be positive")
		}
		return n, nil
	}
	return t.Seconds(v)
}

type errString string

func (e errString) Error() string { return string(e) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] encode response: %v", err)
	}
}
