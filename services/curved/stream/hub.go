package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"launchpad/core/events"
	"launchpad/core/types"
)

const wsWriteTimeout = 10 * time.Second

// Message is the wire form of a curve event.
type Message struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type subscriber struct {
	asset string
	ch    chan Message
}

// Hub fans committed curve events out to websocket subscribers. Slow
// subscribers whose buffer fills are disconnected.
type Hub struct {
	logger  *slog.Logger
	buffer  int
	backlog int

	mu     sync.Mutex
	seq    uint64
	nextID uint64
	subs   map[uint64]*subscriber
	recent []Message
}

// NewHub creates a hub with per-subscriber buffers and a replay backlog.
func NewHub(buffer, backlog int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if backlog < 0 {
		backlog = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "stream"),
		buffer:  buffer,
		backlog: backlog,
		subs:    make(map[uint64]*subscriber),
	}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	rendered, ok := events.Render(evt)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	msg := Message{Sequence: h.seq, Type: rendered.Type, Attributes: rendered.Attributes}
	asset := rendered.Attribute(types.AttributeAsset)
	if h.backlog > 0 {
		h.recent = append(h.recent, msg)
		if len(h.recent) > h.backlog {
			h.recent = h.recent[len(h.recent)-h.backlog:]
		}
	}
	for id, sub := range h.subs {
		if !sub.matches(asset) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("dropping slow subscriber", "subscriber", id)
			close(sub.ch)
			delete(h.subs, id)
		}
	}
}

func (s *subscriber) matches(asset string) bool {
	return s.asset == "" || strings.EqualFold(asset, s.asset)
}

// Subscribe registers a listener for events on asset, or on every curve
// when asset is empty. The backlog holds buffered events in order.
func (h *Hub) Subscribe(asset string) (<-chan Message, []Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	sub := &subscriber{asset: strings.TrimSpace(asset), ch: make(chan Message, h.buffer)}
	h.subs[id] = sub
	var backlog []Message
	for _, msg := range h.recent {
		if sub.matches(msg.Attributes[types.AttributeAsset]) {
			backlog = append(backlog, msg)
		}
	}
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if current, ok := h.subs[id]; ok && current == sub {
			close(sub.ch)
			delete(h.subs, id)
		}
	}
	return sub.ch, backlog, cancel
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams events. The
// optional asset query parameter filters to one curve.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	updates, backlog, cancel := h.Subscribe(r.URL.Query().Get("asset"))
	defer cancel()

	if err := h.stream(ctx, conn, updates, backlog); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, updates <-chan Message, backlog []Message) error {
	for _, msg := range backlog {
		if err := writeMessage(ctx, conn, msg); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			if err := writeMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
