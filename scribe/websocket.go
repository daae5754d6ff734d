package scribe

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Status messages buffered per subscriber before new ones are dropped
	subscriberBuffer = 64

	// Subscribers only send control frames
	maxClientMessage = 512
)

// subscriber is one websocket client following status events.
type subscriber struct {
	conn *websocket.Conn
	out  chan []byte
}

// hub fans status messages out to subscribers. It has its own lock and never
// blocks a publisher.
type hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *hub) add(key string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
}

// remove drops sub and closes its outbox. Publishers send under the read
// lock, so nothing can write to the closed channel afterwards.
func (h *hub) remove(key string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[key]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, key)
	}
	close(sub.out)
}

// publish queues data for every subscriber of key. A subscriber whose
// outbox is full misses the message.
func (h *hub) publish(key string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[key] {
		select {
		case sub.out <- data:
		default:
			slog.Warn("Dropped status message for slow subscriber",
				"meetingID", key,
				"remote", sub.conn.RemoteAddr().String())
		}
	}
}

func (h *hub) count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// handleWebSocket subscribes to status events of one meeting, or of every
// meeting when no id is given. The handler goroutine reads until the client
// leaves while a second goroutine writes.
func (s *Scribe) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	key := allSubscribers
	if raw, ok := mux.Vars(r)["meetingID"]; ok {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid meeting ID", http.StatusBadRequest)
			return
		}
		key = id.String()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, out: make(chan []byte, subscriberBuffer)}
	s.subs.add(key, sub)
	slog.Debug("WebSocket subscriber joined", "meetingID", key, "remote", conn.RemoteAddr().String())

	go sub.forward()
	sub.await()

	s.subs.remove(key, sub)
	slog.Debug("WebSocket subscriber left", "meetingID", key)
}

// forward writes queued messages and keepalive pings until the outbox is
// closed or a write fails. It owns closing the connection.
func (sub *subscriber) forward() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.out:
			if !ok {
				sub.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}

		case <-ping.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// await discards client frames so pongs and close frames are processed,
// returning once the peer is gone or stops answering pings.
func (sub *subscriber) await() {
	sub.conn.SetReadLimit(maxClientMessage)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}
	}
}
