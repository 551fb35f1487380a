package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

type HubConfig struct {
	// ClientBuffer is the per-connection send queue. Frames for a client
	// whose queue is full are dropped.
	ClientBuffer int
	PingInterval time.Duration
	// StaleAfter disconnects clients that sent nothing, including pongs,
	// for this long.
	StaleAfter time.Duration
	// JoinTokens, when set, makes joinBoard require a token for the board.
	JoinTokens     *JoinTokens
	AllowedOrigins []string
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		ClientBuffer: 64,
		PingInterval: 30 * time.Second,
		StaleAfter:   90 * time.Second,
	}
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	rooms     map[string]struct{} // guarded by Hub.mu
	lastPong  time.Time
	mu        sync.Mutex // protects lastPong
	closeOnce sync.Once
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *client) idleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastPong)
}

// Hub owns websocket connections and their board rooms. It implements
// Broadcaster for a single process.
type Hub struct {
	cfg          HubConfig
	upgrader     websocket.Upgrader
	clients      map[*client]struct{}
	rooms        map[string]map[*client]struct{}
	mu           sync.RWMutex
	metrics      *Metrics
	closed       bool
	shutdownOnce sync.Once
}

func NewHub(cfg HubConfig) *Hub {
	defaults := DefaultHubConfig()
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = defaults.ClientBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.PingInterval
	}

	h := &Hub{
		cfg:     cfg,
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
		metrics: NewMetrics(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &client{
		id:       uuid.Must(uuid.NewV4()).String(),
		conn:     conn,
		send:     make(chan []byte, h.cfg.ClientBuffer),
		rooms:    make(map[string]struct{}),
		lastPong: time.Now(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.metrics.ConnectedClients.Store(int32(len(h.clients)))
	h.mu.Unlock()

	log.WithFields(log.Fields{"client": c.id, "remote": r.RemoteAddr}).Debug("socket connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("client", c.id).Debug("socket read failed")
			}
			return
		}
		c.touch()

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(c, 0, "malformed message")
			continue
		}

		switch msg.Type {
		case MsgJoinBoard:
			if err := h.join(c, msg.BoardID, msg.Token); err != nil {
				h.metrics.JoinsRejected.Add(1)
				h.sendError(c, msg.BoardID, err.Error())
				continue
			}
			h.sendControl(c, msg.BoardID, EventJoined)
		case MsgLeaveBoard:
			h.leave(c, msg.BoardID)
			h.sendControl(c, msg.BoardID, EventLeft)
		case MsgPong:
		default:
			h.sendError(c, msg.BoardID, "unknown message type")
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.removeClient(c)
			return
		}
		h.metrics.FramesSent.Add(1)
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

var errInvalidBoard = errors.New("boardId is required")

func (h *Hub) join(c *client, boardID uint, token string) error {
	if boardID == 0 {
		return errInvalidBoard
	}
	if h.cfg.JoinTokens != nil {
		if err := h.cfg.JoinTokens.Verify(token, boardID); err != nil {
			return err
		}
	}

	room := RoomName(boardID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return nil
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	h.metrics.Joins.Add(1)
	return nil
}

func (h *Hub) leave(c *client, boardID uint) {
	room := RoomName(boardID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast delivers the event to the board's room in this process.
func (h *Hub) Broadcast(_ context.Context, boardID uint, event string, payload any) error {
	frame, err := EncodeFrame(boardID, event, payload)
	if err != nil {
		return err
	}
	h.metrics.EventsBroadcast.Add(1)
	h.Deliver(boardID, frame)
	return nil
}

// Deliver queues an encoded frame for every client in the board's room
// and reports how many accepted it.
func (h *Hub) Deliver(boardID uint, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[RoomName(boardID)] {
		if h.trySend(c, frame) {
			delivered++
			continue
		}
		h.metrics.FramesDropped.Add(1)
		log.WithFields(log.Fields{"client": c.id, "board_id": boardID}).Warn("client send queue full, frame dropped")
	}
	return delivered
}

// trySend must be called with h.mu held so the send channel cannot be
// closed underneath it.
func (h *Hub) trySend(c *client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) sendTo(c *client, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.trySend(c, frame)
	}
}

func (h *Hub) sendControl(c *client, boardID uint, event string) {
	frame, err := EncodeFrame(boardID, event, nil)
	if err == nil {
		h.sendTo(c, frame)
	}
}

func (h *Hub) sendError(c *client, boardID uint, message string) {
	frame, err := EncodeFrame(boardID, EventError, map[string]string{"message": message})
	if err == nil {
		h.sendTo(c, frame)
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for room := range c.rooms {
			h.leaveLocked(c, room)
		}
		h.metrics.ConnectedClients.Store(int32(len(h.clients)))
	}
	h.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
		log.WithField("client", c.id).Debug("socket disconnected")
	})
}

// Run pings clients and reaps the ones that stopped answering. It returns
// when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := EncodeFrame(0, EventPing, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.mu.RLock()
			var stale []*client
			for c := range h.clients {
				if c.idleFor(now) > h.cfg.StaleAfter {
					stale = append(stale, c)
					continue
				}
				h.trySend(c, ping)
			}
			h.mu.RUnlock()

			for _, c := range stale {
				log.WithField("client", c.id).Info("removing stale socket client")
				h.metrics.StaleReaped.Add(1)
				h.removeClient(c)
			}
		}
	}
}

// RoomSize reports how many clients have joined the board's room.
func (h *Hub) RoomSize(boardID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomName(boardID)])
}

func (h *Hub) Stats() MetricsSnapshot {
	snap := h.metrics.Snapshot()
	h.mu.RLock()
	snap.Rooms = len(h.rooms)
	h.mu.RUnlock()
	return snap
}

// Shutdown disconnects every client. New connections are refused.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		clients := make([]*client, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.Unlock()

		for _, c := range clients {
			h.removeClient(c)
		}
		log.WithField("clients", len(clients)).Info("realtime hub stopped")
	})
}
