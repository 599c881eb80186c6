package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"owngame/messages"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub streams committed game snapshots to websocket spectators of a chat.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	resync     chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	latest     map[messages.Route][]byte
}

type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte
	route  messages.Route
}

type HubMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type outbound struct {
	route messages.Route
	data  []byte
}

var _ Feed = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		resync:     make(chan *Client, 16),
		done:       make(chan struct{}),
		latest:     make(map[messages.Route][]byte),
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return nil

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.Printf("[hub] client %s watching %s, total clients: %d", client.id, client.route, total)
			h.deliverLatest(client)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("[hub] client %s left %s, total clients: %d", client.id, client.route, len(h.clients))
			}
			h.mutex.Unlock()

		case client := <-h.resync:
			h.deliverLatest(client)

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if client.route != msg.route {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					log.Printf("[hub] client %s send buffer full, closing connection", client.id)
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) deliverLatest(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.clients[client] {
		return
	}
	data, ok := h.latest[client.route]
	if !ok {
		data = encodeHubMessage("no_game", nil)
	}
	select {
	case client.send <- data:
	default:
	}
}

func encodeHubMessage(messageType string, payload any) []byte {
	data, err := json.Marshal(HubMessage{Type: messageType, Payload: payload})
	if err != nil {
		log.Printf("[hub] marshal %s: %v", messageType, err)
		return nil
	}
	return data
}

func (h *Hub) enqueue(route messages.Route, data []byte) {
	if data == nil {
		return
	}
	select {
	case h.broadcast <- outbound{route: route, data: data}:
	default:
		log.Printf("[hub] broadcast queue full, dropping update for %s", route)
	}
}

func (h *Hub) Publish(_ context.Context, snap GameSnapshot) {
	data := encodeHubMessage("game_state", snap)
	h.mutex.Lock()
	h.latest[snap.Route()] = data
	h.mutex.Unlock()
	h.enqueue(snap.Route(), data)
}

func (h *Hub) Drop(_ context.Context, route messages.Route) {
	h.mutex.Lock()
	delete(h.latest, route)
	h.mutex.Unlock()
	h.enqueue(route, encodeHubMessage("game_end", map[string]any{"chat_id": route.ChatID, "origin": route.Origin}))
}

// Watchers counts spectators of a chat.
func (h *Hub) Watchers(route messages.Route) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for client := range h.clients {
		if client.route == route {
			n++
		}
	}
	return n
}

func (h *Hub) RegisterClient(conn *websocket.Conn, route messages.Route) *Client {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, 256),
		route:  route,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return client
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.socket.Close()
	}()

	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[hub] read from client %s: %v", c.id, err)
			}
			return
		}

		var msg HubMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[hub] bad message from client %s: %v", c.id, err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg HubMessage) {
	switch msg.Type {
	case "ping":
		c.hub.enqueueTo(c, encodeHubMessage("pong", "pong"))
	case "request_game_state":
		select {
		case c.hub.resync <- c:
		case <-c.hub.done:
		}
	default:
		log.Printf("[hub] unknown message type %q from client %s", msg.Type, c.id)
	}
}

// enqueueTo writes to a single client through the Run loop's lock so it never
// races with the channel being closed.
func (h *Hub) enqueueTo(client *Client, data []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}
