package gateway

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kasuganosora/parley/server/cache"
	"go.uber.org/zap"
)

// OnlineKey is the cache set holding the ids of connected users.
const OnlineKey = "chat:online"

const presenceTimeout = 2 * time.Second

// Hub is the registry of live connections and room memberships.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn            // conn id → conn
	byUser map[int64]map[string]*Conn  // user id → conns
	rooms  map[string]map[string]*Conn // room → members
	joined map[string]map[string]struct{}

	presence cache.Cache
	logger   *zap.Logger
}

// NewHub creates a Hub. presence may be nil.
func NewHub(presence cache.Cache, logger *zap.Logger) *Hub {
	return &Hub{
		conns:    make(map[string]*Conn),
		byUser:   make(map[int64]map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
		joined:   make(map[string]map[string]struct{}),
		presence: presence,
		logger:   logger,
	}
}

// Register adds c to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	userConns, ok := h.byUser[c.UserID]
	if !ok {
		userConns = make(map[string]*Conn)
		h.byUser[c.UserID] = userConns
	}
	userConns[c.ID] = c
	first := len(userConns) == 1
	h.mu.Unlock()

	if first {
		h.setPresence(c.UserID, true)
	}
	h.logger.Info("connection registered",
		zap.String("conn_id", c.ID),
		zap.Int64("user_id", c.UserID))
}

// Unregister removes c from the hub and from every room it joined.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID)
	for room := range h.joined[c.ID] {
		h.leaveLocked(c.ID, room)
	}
	delete(h.joined, c.ID)
	last := false
	if userConns, ok := h.byUser[c.UserID]; ok {
		delete(userConns, c.ID)
		if len(userConns) == 0 {
			delete(h.byUser, c.UserID)
			last = true
		}
	}
	h.mu.Unlock()

	if last {
		h.setPresence(c.UserID, false)
	}
	h.logger.Info("connection unregistered",
		zap.String("conn_id", c.ID),
		zap.Int64("user_id", c.UserID))
}

// Join subscribes c to room. It reports false for an empty room name or an
// unregistered connection.
func (h *Hub) Join(c *Conn, room string) bool {
	if room == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.ID] = c
	rooms, ok := h.joined[c.ID]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[c.ID] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave unsubscribes c from room.
func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c.ID, room)
	if rooms, ok := h.joined[c.ID]; ok {
		delete(rooms, room)
	}
}

func (h *Hub) leaveLocked(connID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Rooms returns the rooms c is subscribed to.
func (h *Hub) Rooms(c *Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.joined[c.ID]))
	for room := range h.joined[c.ID] {
		out = append(out, room)
	}
	return out
}

// InRoom reports whether c is subscribed to room.
func (h *Hub) InRoom(c *Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c.ID]
	return ok
}

func (h *Hub) snapshot(filter func(*Conn) bool) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) deliver(conns []*Conn, pkt *Packet) int {
	data, err := pkt.Encode()
	if err != nil {
		h.logger.Error("failed to marshal broadcast packet", zap.String("type", pkt.Type), zap.Error(err))
		return 0
	}
	n := 0
	for _, c := range conns {
		if c.SendRaw(data) {
			n++
		}
	}
	return n
}

// BroadcastRoom sends pkt to every member of room and returns how many
// connections it was queued for.
func (h *Hub) BroadcastRoom(room string, pkt *Packet) int {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()
	return h.deliver(members, pkt)
}

// BroadcastAll sends pkt to every connection.
func (h *Hub) BroadcastAll(pkt *Packet) int {
	return h.deliver(h.snapshot(nil), pkt)
}

// BroadcastExcept sends pkt to every connection but the one with id connID.
func (h *Hub) BroadcastExcept(connID string, pkt *Packet) int {
	return h.deliver(h.snapshot(func(c *Conn) bool { return c.ID != connID }), pkt)
}

// SendToUser sends pkt to every connection of userID.
func (h *Hub) SendToUser(userID int64, pkt *Packet) int {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	return h.deliver(conns, pkt)
}

// IsOnline reports whether userID has at least one connection on this node.
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomCount returns the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomSize returns the number of members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// CloseAll closes every connection and waits up to timeout for their
// read loops to unregister them.
func (h *Hub) CloseAll(timeout time.Duration) {
	conns := h.snapshot(nil)
	h.logger.Info("closing all connections", zap.Int("count", len(conns)))
	for _, c := range conns {
		c.Close()
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.Count() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (h *Hub) setPresence(userID int64, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	member := strconv.FormatInt(userID, 10)
	var err error
	if online {
		err = h.presence.SAdd(ctx, OnlineKey, member)
	} else {
		err = h.presence.SRem(ctx, OnlineKey, member)
	}
	if err != nil {
		h.logger.Warn("presence update failed", zap.Int64("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
}
