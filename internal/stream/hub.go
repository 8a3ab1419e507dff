// Package stream pushes rendered scenes to connected viewers over WebSocket
// and reports how many of them are currently looking.
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcelosanchez/locateme-web/internal/render"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 90 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 4 * 1024
	sendBuffer   = 4
)

// Message types.
const (
	TypeScene     = "scene"
	TypeVisible   = "visible"
	TypeHidden    = "hidden"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeSelect    = "select"
	TypeClear     = "clear"
	TypeRefresh   = "refresh"
	TypeCommandOK = "ok"
	TypeError     = "error"
)

// ServerMessage is sent to viewers.
type ServerMessage struct {
	Type  string        `json:"type"`
	Scene *render.Scene `json:"scene,omitempty"`
	Error string        `json:"error,omitempty"`
}

// ClientMessage is received from viewers.
type ClientMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
}

// Commands handles viewer commands. Any of its funcs may be nil.
type Commands struct {
	Select  func(deviceID string) error
	Clear   func()
	Refresh func()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from the same listener; CORS is handled at the HTTP layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	visible bool
}

// Hub fans scenes out to every connected viewer. Each viewer gets the latest
// scene on connect; slow viewers drop intermediate scenes, never the latest.
type Hub struct {
	commands  Commands
	onViewers func(visible int)

	// viewersMu is held from a visible-count change through its callback, so
	// onViewers sees counts in the order they were applied.
	viewersMu sync.Mutex

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	visible int
	closed  bool
}

// NewHub returns a hub. onViewers is called with the number of visible viewers
// whenever it changes; it runs on the connection's goroutine, in change order,
// and must not block.
func NewHub(commands Commands, onViewers func(visible int)) *Hub {
	return &Hub{commands: commands, onViewers: onViewers, clients: make(map[*client]struct{})}
}

// Publish implements render.Publisher.
func (h *Hub) Publish(scene *render.Scene) {
	data, err := json.Marshal(ServerMessage{Type: TypeScene, Scene: scene})
	if err != nil {
		log.Printf("stream: encode scene: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		offer(c.send, data)
	}
}

// offer enqueues data, discarding the oldest queued message when full.
func offer(ch chan []byte, data []byte) {
	for {
		select {
		case ch <- data:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Viewers returns the number of connected viewers and how many are visible.
func (h *Hub) Viewers() (connected, visible int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients), h.visible
}

// ServeHTTP upgrades the request and serves one viewer until it disconnects.
// A new viewer counts as visible until it reports otherwise.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), visible: true}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	done := make(chan struct{})
	go h.writeLoop(c, done)
	h.readLoop(c)
	close(done)
	h.unregister(c)
	conn.Close()
}

func (h *Hub) register(c *client) bool {
	h.viewersMu.Lock()
	defer h.viewersMu.Unlock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		offer(c.send, h.last)
	}
	n := h.adjustVisible(1)
	h.mu.Unlock()
	h.viewersChanged(n)
	return true
}

func (h *Hub) unregister(c *client) {
	h.viewersMu.Lock()
	defer h.viewersMu.Unlock()
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	delta := 0
	if c.visible {
		delta = -1
	}
	n := h.adjustVisible(delta)
	h.mu.Unlock()
	if delta != 0 {
		h.viewersChanged(n)
	}
}

func (h *Hub) setVisible(c *client, visible bool) {
	h.viewersMu.Lock()
	defer h.viewersMu.Unlock()
	h.mu.Lock()
	if c.visible == visible {
		h.mu.Unlock()
		return
	}
	c.visible = visible
	delta := 1
	if !visible {
		delta = -1
	}
	n := h.adjustVisible(delta)
	h.mu.Unlock()
	h.viewersChanged(n)
}

// adjustVisible must be called with h.mu held.
func (h *Hub) adjustVisible(delta int) int {
	h.visible += delta
	return h.visible
}

func (h *Hub) viewersChanged(n int) {
	if h.onViewers != nil {
		h.onViewers(n)
	}
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if reply := h.handle(c, msg); reply != nil {
			if b, err := json.Marshal(reply); err == nil {
				offer(c.send, b)
			}
		}
	}
}

func (h *Hub) handle(c *client, msg ClientMessage) *ServerMessage {
	switch msg.Type {
	case TypeVisible:
		h.setVisible(c, true)
	case TypeHidden:
		h.setVisible(c, false)
	case TypePing:
		return &ServerMessage{Type: TypePong}
	case TypeSelect:
		if h.commands.Select == nil {
			return nil
		}
		if err := h.commands.Select(msg.DeviceID); err != nil {
			return &ServerMessage{Type: TypeError, Error: err.Error()}
		}
		return &ServerMessage{Type: TypeCommandOK}
	case TypeClear:
		if h.commands.Clear != nil {
			h.commands.Clear()
			return &ServerMessage{Type: TypeCommandOK}
		}
	case TypeRefresh:
		if h.commands.Refresh != nil {
			h.commands.Refresh()
			return &ServerMessage{Type: TypeCommandOK}
		}
	}
	return nil
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
	}
}
