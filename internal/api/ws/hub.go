// Package ws pushes job status changes to WebSocket subscribers.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/reid/internal/models"
	"github.com/your-org/reid/internal/observability"
	"github.com/your-org/reid/pkg/dto"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one subscriber. A zero jobID subscribes to every job.
type Client struct {
	conn  *websocket.Conn
	send  chan []byte
	jobID uuid.UUID
}

type message struct {
	jobID uuid.UUID
	data  []byte
}

// Hub owns the subscriber set. Only Run touches it, so no lock is needed.
type Hub struct {
	subs       map[uuid.UUID]map[*Client]struct{}
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		subs:       make(map[uuid.UUID]map[*Client]struct{}),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub event loop. Call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			set := h.subs[c.jobID]
			if set == nil {
				set = make(map[*Client]struct{})
				h.subs[c.jobID] = set
			}
			set[c] = struct{}{}
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "job_id", c.jobID)

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			h.deliver(h.subs[uuid.Nil], msg.data)
			if msg.jobID != uuid.Nil {
				h.deliver(h.subs[msg.jobID], msg.data)
			}
		}
	}
}

// deliver never blocks: a client whose buffer is full is dropped.
func (h *Hub) deliver(set map[*Client]struct{}, data []byte) {
	for c := range set {
		select {
		case c.send <- data:
		default:
			slog.Warn("ws client too slow, dropping", "job_id", c.jobID)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	set, ok := h.subs[c.jobID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, c.jobID)
	}
	close(c.send)
	observability.WSConnections.Dec()
	slog.Debug("ws client disconnected", "job_id", c.jobID)
}

// BroadcastResult fans a finished job out to its subscribers.
func (h *Hub) BroadcastResult(res models.JobResult) {
	h.BroadcastEvent(&dto.WSEvent{
		Type:   "job_status",
		JobID:  res.JobID,
		Status: string(res.Status),
		RunID:  res.RunID,
		Stage:  res.Stage,
		Error:  res.Error,
	})
}

func (h *Hub) BroadcastEvent(event *dto.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("encode ws event", "error", err)
		return
	}
	h.broadcast <- message{jobID: event.JobID, data: data}
}

// HandleWS upgrades the request. An optional ?job_id= limits the
// connection to one job.
func (h *Hub) HandleWS(c *gin.Context) {
	var jobID uuid.UUID
	if s := c.Query("job_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job_id"})
			return
		}
		jobID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, sendBuffer), jobID: jobID}
	h.register <- client

	go client.writeLoop()
	go client.readLoop(h)
}

// writeLoop sends queued events and keeps the connection alive with pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop discards client frames; it exists to notice disconnects and
// extend the read deadline on every pong.
func (c *Client) readLoop(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
