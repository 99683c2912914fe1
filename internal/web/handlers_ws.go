package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/store"
)

// wsMessage is the frame sent to WebSocket clients.
type wsMessage struct {
	ID   string      `json:"id,omitempty"`
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// wsSnapshot is the message type sent to a client right after it connects.
const wsSnapshot = "snapshot"

func newWSMessage(event controller.Event) wsMessage {
	msg := wsMessage{ID: event.ID, Type: event.Type, Time: event.Time, Data: event.Data}
	if d, ok := event.Data.(*store.Device); ok {
		msg.Data = newDeviceView(d)
	}
	return msg
}

// wsRequest is the only message a client sends. A non-empty Devices limits
// device_updated events to those indices; an empty one restores all.
type wsRequest struct {
	Devices []uint32 `json:"devices"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	devices map[uint32]struct{} // nil means every device
}

func (c *wsClient) watch(indices []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(indices) == 0 {
		c.devices = nil
		return
	}
	c.devices = make(map[uint32]struct{}, len(indices))
	for _, i := range indices {
		c.devices[i] = struct{}{}
	}
}

func (c *wsClient) wants(f frame) bool {
	if !f.device {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.devices == nil {
		return true
	}
	_, ok := c.devices[f.index]
	return ok
}

// frame is an encoded message plus the device it concerns, if any.
type frame struct {
	data   []byte
	device bool
	index  uint32
}

// WSHub owns the set of connected clients and fans messages out to them.
// A client whose queue is full is dropped rather than stalling the rest.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan interface{}

	done     chan struct{}
	stopOnce sync.Once
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan interface{}, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			f, err := encodeFrame(msg)
			if err != nil {
				h.logger.Error("ws marshal", "err", err)
				continue
			}
			h.fanOut(f)
		}
	}
}

func encodeFrame(msg interface{}) (frame, error) {
	var f frame
	if event, ok := msg.(controller.Event); ok {
		out := newWSMessage(event)
		if v, ok := out.Data.(deviceView); ok {
			f.device, f.index = true, v.Index
		}
		msg = out
	}
	data, err := json.Marshal(msg)
	f.data = data
	return f, err
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client connected", "total", n)
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client disconnected", "total", n)
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *WSHub) fanOut(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(f) {
			continue
		}
		select {
		case c.send <- f.data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("ws client evicted (too slow)")
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues msg for every interested client without blocking.
// Controller events are sent as wsMessage frames, anything else as its JSON.
func (h *WSHub) Broadcast(msg interface{}) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message")
	}
}

func (s *Server) snapshotMessage() ([]byte, error) {
	devices := s.ctrl.Devices()
	views := make([]deviceView, len(devices))
	for i, d := range devices {
		views[i] = newDeviceView(d)
	}
	return json.Marshal(wsMessage{
		Type: wsSnapshot,
		Time: time.Now(),
		Data: map[string]interface{}{
			"server":  s.ctrl.ServerInfo(),
			"devices": views,
		},
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	if snap, err := s.snapshotMessage(); err != nil {
		s.logger.Error("ws snapshot", "err", err)
	} else {
		client.send <- snap
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		var req wsRequest
		if err := wsjson.Read(ctx, client.conn, &req); err != nil {
			return
		}
		client.watch(req.Devices)
		s.logger.Debug("ws device filter", "devices", req.Devices)
	}
}
