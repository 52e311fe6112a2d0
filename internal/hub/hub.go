// Package hub pushes draw progress to the browsers of each tenant over
// websockets.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/gorilla/websocket"
)

// Message types.
const (
	TypeState          = "state"
	TypeDrawStarted    = "draw_started"
	TypeAwardRevealed  = "award_revealed"
	TypeDrawFinished   = "draw_finished"
	TypeHistoryChanged = "history_changed"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the page and the socket share an origin behind the same server
	},
}

// Message is the JSON frame sent to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// SnapshotFunc returns the state a newly connected client of tenantID starts from.
type SnapshotFunc func(tenantID string) any

type outbound struct {
	tenantID string // empty: every tenant
	msg      Message
}

// Hub maintains the connected clients and routes messages to them.
type Hub struct {
	snapshot   SnapshotFunc
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
	mutex      sync.RWMutex
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	tenantID string
	send     chan Message
}

// New creates a Hub. snapshot may be nil.
func New(snapshot SnapshotFunc) *Hub {
	return &Hub{
		snapshot:   snapshot,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run routes messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			logger.V(1).Infof("hub: client connected for tenant %s", client.tenantID)
			if h.snapshot != nil {
				client.send <- Message{Type: TypeState, Payload: h.snapshot(client.tenantID)}
			}

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()

		case out := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients {
				if out.tenantID != "" && client.tenantID != out.tenantID {
					continue
				}
				select {
				case client.send <- out.msg:
				default:
					// Send buffer full; drop the slow client.
					go client.leave()
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// Send queues a message for every client of tenantID. Messages sent after
// Run has returned are dropped.
func (h *Hub) Send(tenantID, msgType string, payload any) {
	h.queue(outbound{tenantID: tenantID, msg: Message{Type: msgType, Payload: payload}})
}

// SendAll queues a message for every connected client.
func (h *Hub) SendAll(msgType string, payload any) {
	h.queue(outbound{msg: Message{Type: msgType, Payload: payload}})
}

func (h *Hub) queue(out outbound) {
	select {
	case h.broadcast <- out:
	case <-h.done:
	}
}

// ClientCount returns the number of clients connected for tenantID, or for
// every tenant when tenantID is empty.
func (h *Hub) ClientCount(tenantID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for client := range h.clients {
		if tenantID == "" || client.tenantID == tenantID {
			n++
		}
	}
	return n
}

// ServeWs upgrades the request and attaches the connection to tenantID.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("hub: websocket upgrade error: %v", err)
		return
	}

	client := &Client{hub: h, conn: conn, tenantID: tenantID, send: make(chan Message, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// leave detaches c from the hub unless the hub has already stopped.
func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump only watches for close and pong frames; clients send nothing.
func (c *Client) readPump() {
	defer func() {
		c.leave()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.V(1).Infof("hub: websocket error: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(message)
			if err != nil {
				logger.Errorf("hub: marshal %s message: %v", message.Type, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
