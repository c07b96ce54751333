package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"timeline/core/internal/engine"
	"timeline/core/internal/logging"
	"timeline/core/internal/protocol"

	"github.com/coder/websocket"
)

// Hub fans committed engine events out to websocket subscribers. Each
// subscriber watches one owner.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]string
	seq     atomic.Uint64
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	return &Hub{clients: map[*websocket.Conn]string{}, log: log}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		msg, _ := json.Marshal(protocol.Error(h.nextID(), "subscribe", "OWNER_REQUIRED", "owner query parameter is required"))
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		_ = conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		_ = conn.Close(websocket.StatusPolicyViolation, "owner required")
		return
	}
	h.mu.Lock()
	h.clients[conn] = owner
	h.mu.Unlock()
	h.log.Debug("feed subscriber joined", "owner", owner)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Publish implements engine.Publisher.
func (h *Hub) Publish(evt engine.Event) {
	payload := map[string]any{"owner_id": evt.OwnerID}
	if evt.ItemID != "" {
		payload["item_id"] = evt.ItemID
	}
	if evt.Kind != "" {
		payload["kind"] = string(evt.Kind)
	}
	for k, v := range evt.Payload {
		payload[k] = v
	}
	msg, err := json.Marshal(protocol.Event(h.nextID(), evt.Topic, payload))
	if err != nil {
		h.log.Error("encode feed event failed", "topic", evt.Topic, logging.Err(err))
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c, owner := range h.clients {
		if owner == evt.OwnerID {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		_ = c.Write(ctx, websocket.MessageText, msg)
		cancel()
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) nextID() string {
	return fmt.Sprintf("evt_%d", h.seq.Add(1))
}
