package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/latticehq/minionrt/internal/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans stream.Events out to every connected websocket client; an event
// that arrives while the 256-slot broadcast buffer is full is dropped. It
// implements stream.Listener so a Manager can Subscribe it directly.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan stream.Event
	stop       chan struct{}
	stopOnce   sync.Once
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan stream.Event, 256),
		stop:       make(chan struct{}),
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.stop:
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// OnEvent implements stream.Listener.
func (h *Hub) OnEvent(event stream.Event) {
	select {
	case h.broadcast <- event:
	default:
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
