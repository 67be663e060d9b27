// Package stream раздаёт события шины подключённым редакторам по websocket.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"widget-builder/internal/builder/events"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = 2 * pingPeriod
	clientBuffer = 64
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ============================================================
// Hub
// ============================================================

// Hub подписан на все события шины. Клиент, не успевающий забирать
// сообщения (переполнен буфер), отключается.
type Hub struct {
	mu          sync.Mutex
	clients     map[*client]struct{}
	upgrader    websocket.Upgrader
	log         zerolog.Logger
	unsubscribe func()
}

func NewHub(bus *events.Bus, log zerolog.Logger) *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// редакторы работают с другого origin (dev)
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
	h.unsubscribe = bus.Subscribe(events.All, h.Broadcast)
	return h
}

// Handler возвращает http.Handler с маршрутом /events.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/events", h)
	return mux
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register(c)
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("editor connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// readPump нужен только для обработки control-фреймов и обнаружения
// закрытия соединения; входящие сообщения игнорируются.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unregister(c)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast рассылает событие всем клиентам без блокировки.
func (h *Hub) Broadcast(ev events.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", ev.Name).Msg("encode event")
		return
	}
	var slow []*client
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	for _, c := range slow {
		h.log.Warn().Str("event", ev.Name).Msg("dropping slow editor")
		h.unregister(c)
	}
}

// Clients возвращает число подключённых редакторов.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close отписывается от шины и закрывает все соединения.
func (h *Hub) Close() {
	h.unsubscribe()
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
