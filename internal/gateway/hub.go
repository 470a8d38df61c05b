package gateway

import "sync"

// Hub is the per-node multicast table: conversation rooms plus the set of
// agent-queue watchers. Sessions are short-lived (websocket lifetime), so
// the maps stay small and a plain RWMutex is enough.
type Hub struct {
	mu            sync.RWMutex
	rooms         map[string]map[*Session]struct{}
	queueWatchers map[*Session]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:         make(map[string]map[*Session]struct{}),
		queueWatchers: make(map[*Session]struct{}),
	}
}

// JoinRoom adds the session to the conversation's room.
func (h *Hub) JoinRoom(conversationID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*Session]struct{})
		h.rooms[conversationID] = room
	}
	room[s] = struct{}{}
}

// WatchQueue subscribes the session to queue snapshot broadcasts.
func (h *Hub) WatchQueue(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queueWatchers[s] = struct{}{}
}

// Leave removes the session everywhere. Idempotent.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queueWatchers, s)
	for conversationID, room := range h.rooms {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// BroadcastRoom fans one frame out to every session in the room.
func (h *Hub) BroadcastRoom(conversationID, event string, data any) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.rooms[conversationID]))
	for s := range h.rooms[conversationID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.trySend(outFrame{Event: event, Data: data})
	}
}

// BroadcastQueue fans one frame out to every queue watcher.
func (h *Hub) BroadcastQueue(event string, data any) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.queueWatchers))
	for s := range h.queueWatchers {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.trySend(outFrame{Event: event, Data: data})
	}
}

// RoomSessions returns the sessions currently joined to a room.
func (h *Hub) RoomSessions(conversationID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.rooms[conversationID]))
	for s := range h.rooms[conversationID] {
		out = append(out, s)
	}
	return out
}

// RoomSize reports how many sessions a room holds.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}
