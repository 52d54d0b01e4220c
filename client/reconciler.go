package client

import (
	"sort"
	"sync"
	"time"

	"github.com/kasuganosora/parley/server/message"
	"github.com/kasuganosora/parley/server/model"
)

// Status is the delivery state of a timeline entry.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	default:
		return "failed"
	}
}

// Entry is one message as the client renders it. Optimistic entries have
// ID 0 and a TempID until the server acknowledges them.
type Entry struct {
	ID             int64
	TempID         string
	Room           string
	Content        string
	SenderID       int64
	SenderUsername string
	Timestamp      time.Time
	Status         Status
	Error          string

	sentAt time.Time
}

// Reconciler keeps per-room timelines and matches optimistic messages to
// their persisted counterparts. It is safe for concurrent use.
type Reconciler struct {
	mu      sync.Mutex
	timeout time.Duration
	rooms   map[string][]*Entry
	pending map[string]*Entry // tempId -> entry awaiting ack
	failed  map[string]*Entry // tempId -> entry a late ack may still revive
}

// NewReconciler creates a Reconciler. Pending entries older than timeout are
// failed by Expire; timeout <= 0 disables expiry.
func NewReconciler(timeout time.Duration) *Reconciler {
	return &Reconciler{
		timeout: timeout,
		rooms:   make(map[string][]*Entry),
		pending: make(map[string]*Entry),
		failed:  make(map[string]*Entry),
	}
}

// AddLocal appends an optimistic entry to room.
func (r *Reconciler) AddLocal(room, tempID, content string, senderID int64, now time.Time) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &Entry{
		TempID:    tempID,
		Room:      room,
		Content:   content,
		SenderID:  senderID,
		Timestamp: now,
		Status:    StatusPending,
		sentAt:    now,
	}
	r.pending[tempID] = e
	r.rooms[room] = append(r.rooms[room], e)
	return *e
}

// Acknowledge confirms the optimistic entry for tempID with the persisted
// message. If the room broadcast already added the same id, that copy is
// dropped so the message shows once. A late ack revives an expired entry.
func (r *Reconciler) Acknowledge(tempID string, msg model.Message) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[tempID]
	if !ok {
		if e, ok = r.failed[tempID]; !ok {
			return Entry{}, false
		}
	}
	delete(r.pending, tempID)
	delete(r.failed, tempID)

	e.ID = msg.ID
	e.Content = msg.Content
	e.Timestamp = msg.Timestamp
	e.Status = StatusConfirmed
	e.Error = ""

	timeline := r.rooms[e.Room]
	for i, other := range timeline {
		if other != e && other.ID == msg.ID {
			if e.SenderUsername == "" {
				e.SenderUsername = other.SenderUsername
			}
			r.rooms[e.Room] = append(timeline[:i], timeline[i+1:]...)
			break
		}
	}
	return *e, true
}

// Receive appends a broadcast message unless an entry with the same
// persisted id is already in its room. It reports whether it was added.
func (r *Reconciler) Receive(msg model.Message, senderUsername string) (Entry, bool) {
	room := message.RoomFor(&msg)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rooms[room] {
		if e.ID == msg.ID {
			if e.SenderUsername == "" {
				e.SenderUsername = senderUsername
			}
			return *e, false
		}
	}
	e := &Entry{
		ID:             msg.ID,
		Room:           room,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		SenderUsername: senderUsername,
		Timestamp:      msg.Timestamp,
		Status:         StatusConfirmed,
	}
	r.rooms[room] = append(r.rooms[room], e)
	return *e, true
}

// Update replaces the content of the entry with msg's id.
func (r *Reconciler) Update(msg model.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rooms[message.RoomFor(&msg)] {
		if e.ID == msg.ID {
			e.Content = msg.Content
			return true
		}
	}
	return false
}

// Remove drops the entry with the persisted id from whichever room holds it.
func (r *Reconciler) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, timeline := range r.rooms {
		for i, e := range timeline {
			if e.ID == id {
				r.rooms[room] = append(timeline[:i], timeline[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Discard drops a failed entry from its room and forgets its temp id.
func (r *Reconciler) Discard(tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.failed[tempID]
	if !ok {
		return false
	}
	delete(r.failed, tempID)
	timeline := r.rooms[e.Room]
	for i, other := range timeline {
		if other == e {
			r.rooms[e.Room] = append(timeline[:i], timeline[i+1:]...)
			break
		}
	}
	return true
}

// Fail marks the pending entry for tempID as failed.
func (r *Reconciler) Fail(tempID, reason string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[tempID]
	if !ok {
		return Entry{}, false
	}
	r.markFailed(e, reason)
	return *e, true
}

// Expire fails every pending entry sent at least timeout before now.
func (r *Reconciler) Expire(now time.Time) []Entry {
	if r.timeout <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []Entry
	for _, e := range r.pending {
		if now.Sub(e.sentAt) >= r.timeout {
			r.markFailed(e, "acknowledgement timed out")
			expired = append(expired, *e)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].sentAt.Before(expired[j].sentAt) })
	return expired
}

func (r *Reconciler) markFailed(e *Entry, reason string) {
	delete(r.pending, e.TempID)
	r.failed[e.TempID] = e
	e.Status = StatusFailed
	e.Error = reason
}

// Timeline returns a copy of room's entries in display order.
func (r *Reconciler) Timeline(room string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.rooms[room]))
	for i, e := range r.rooms[room] {
		out[i] = *e
	}
	return out
}

// Pending returns the entries still waiting for an acknowledgement.
func (r *Reconciler) Pending() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sorted(r.pending)
}

// Failed returns the entries that were never acknowledged.
func (r *Reconciler) Failed() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sorted(r.failed)
}

func sorted(set map[string]*Entry) []Entry {
	out := make([]Entry, 0, len(set))
	for _, e := range set {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sentAt.Before(out[j].sentAt) })
	return out
}

// Seed replaces room's timeline with history fetched over HTTP. Pending
// entries of the room are kept at the end; failed ones are dropped.
func (r *Reconciler) Seed(room string, history []model.Message, names map[int64]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	timeline := make([]*Entry, 0, len(history))
	for _, m := range history {
		timeline = append(timeline, &Entry{
			ID:             m.ID,
			Room:           room,
			Content:        m.Content,
			SenderID:       m.SenderID,
			SenderUsername: names[m.SenderID],
			Timestamp:      m.Timestamp,
			Status:         StatusConfirmed,
		})
	}
	for _, e := range r.rooms[room] {
		switch {
		case e.ID != 0:
		case e.Status == StatusPending:
			timeline = append(timeline, e)
		default:
			delete(r.failed, e.TempID)
		}
	}
	r.rooms[room] = timeline
}
