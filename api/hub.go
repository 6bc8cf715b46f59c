package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nostrstack/paywatch/metrics"
	"github.com/nostrstack/paywatch/settlement"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10

	sendBuffer = 16
)

type subscriber struct {
	domain string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans settlement frames out to the websocket subscribers of a domain.
// A subscriber only ever sees frames published for the domain it asked for.
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[string]map[*subscriber]struct{}
	closed      bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Widgets are embedded on tenant sites, so any origin may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	domain := normalizeDomain(r.URL.Query().Get("domain"))
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")

		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")

		return
	}

	sub := &subscriber{
		domain: domain,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	if !h.register(sub) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()

		return
	}

	logger := log.WithContext(r.Context()).WithField("domain", domain)
	logger.Debug("settlement subscriber connected")

	go h.writePump(sub)
	h.readPump(sub)

	h.unregister(sub)
	logger.Debug("settlement subscriber disconnected")
}

func (h *Hub) register(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	subs, ok := h.subscribers[sub.domain]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.subscribers[sub.domain] = subs
	}
	subs[sub] = struct{}{}
	metrics.SubscribersGauge.Inc()

	return true
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sub.domain]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}

	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subscribers, sub.domain)
	}
	close(sub.send)
	metrics.SubscribersGauge.Dec()
}

// readPump only exists to process control frames and notice the peer going
// away. Whatever the widget sends is ignored.
func (h *Hub) readPump(sub *subscriber) {
	sub.conn.SetReadLimit(4096)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish queues payload for every subscriber of domain and returns how many
// accepted it. Subscribers that fall behind lose the frame and have to poll.
func (h *Hub) Publish(domain string, payload []byte) int {
	domain = normalizeDomain(domain)

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for sub := range h.subscribers[domain] {
		select {
		case sub.send <- payload:
			delivered++
		default:
			log.WithField("domain", domain).Warn("settlement subscriber is behind, dropping frame")
		}
	}

	return delivered
}

func (h *Hub) PublishSettlement(domain string, msg *settlement.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("failed to encode settlement frame")

		return
	}

	n := h.Publish(domain, payload)
	log.WithFields(log.Fields{
		"domain":      normalizeDomain(domain),
		"subscribers": n,
	}).Info("settlement published")
}

func (h *Hub) Subscribers(domain string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers[normalizeDomain(domain)])
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for domain, subs := range h.subscribers {
		for sub := range subs {
			close(sub.send)
			metrics.SubscribersGauge.Dec()
		}
		delete(h.subscribers, domain)
	}
}
