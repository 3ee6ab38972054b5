// WebSocket hub for the live deal feed.

package deals

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exiletrade/deal-engine/internal/metrics"
	"github.com/exiletrade/deal-engine/internal/model"
)

// DealMessage is a JSON message sent to WebSocket clients.
type DealMessage struct {
	Type            string           `json:"type"`
	Key             string           `json:"key"`
	Mode            model.SearchMode `json:"mode"`
	ListingID       string           `json:"listing_id"`
	Name            string           `json:"name"`
	Price           string           `json:"price,omitempty"`
	ChaosEquivalent string           `json:"chaos_equivalent,omitempty"`
	MarketEstimate  string           `json:"market_estimate"`
	MarginPct       float64          `json:"margin_pct"`
	Score           float64          `json:"score"`
	TradeURL        string           `json:"trade_url,omitempty"`
}

// NewDealMessage builds the feed message for one ranked listing.
func NewDealMessage(key string, mode model.SearchMode, d model.ScoredListing) DealMessage {
	msg := DealMessage{
		Type:           "deal",
		Key:            key,
		Mode:           mode,
		ListingID:      d.Listing.ID,
		Name:           d.Listing.Name,
		Price:          d.Listing.Price,
		MarketEstimate: d.MarketEstimate.String(),
		MarginPct:      d.MarginPct,
		Score:          d.Score,
		TradeURL:       d.Listing.TradeURL,
	}
	if d.Listing.ChaosEquivalent.Valid {
		msg.ChaosEquivalent = d.Listing.ChaosEquivalent.Decimal.String()
	}
	return msg
}

// WSHub manages WebSocket connections and broadcasts deals to all
// connected clients.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and returns when ctx is done, closing
// every client. Must be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg DealMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
		metrics.AlertsSent.WithLabelValues("websocket").Inc()
	default:
		// Drop if buffer full to avoid blocking request handling.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HandleWS handles WebSocket upgrade requests at GET /ws. Origins are
// checked against allow.
func (h *WSHub) HandleWS(allow func(origin string) bool) http.HandlerFunc {
	up := upgrader
	up.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allow(origin)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("ws upgrade failed", "err", err)
			return
		}

		select {
		case h.register <- conn:
		case <-h.done:
			conn.Close()
			return
		}

		// Read pump: keep connection alive and detect disconnects.
		go func() {
			defer func() {
				select {
				case h.unregister <- conn:
				case <-h.done:
					conn.Close()
				}
			}()
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()

		// Ping ticker to keep connection alive through proxies.
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				h.mu.RLock()
				_, ok := h.clients[conn]
				h.mu.RUnlock()
				if !ok {
					return
				}
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}()
	}
}
