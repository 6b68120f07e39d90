// Package ws maintains the per-room registry of viewer connections and the
// best-effort broadcast fan-out.
package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// conn is the narrow surface the hub needs from a websocket connection.
// *websocket.Conn satisfies it; tests substitute failing writers.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type client struct {
	conn    conn
	writeMu sync.Mutex
}

// Hub tracks viewer connections keyed by room/session. Registration and
// removal are idempotent; broadcast never fails the caller, it only prunes
// connections that fail to accept a write.
type Hub struct {
	name  string
	mu    sync.RWMutex
	rooms map[string]map[conn]*client
}

func NewHub(name string) *Hub {
	return &Hub{
		name:  name,
		rooms: make(map[string]map[conn]*client),
	}
}

func (h *Hub) Register(roomKey string, c conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomKey]
	if !ok {
		room = make(map[conn]*client)
		h.rooms[roomKey] = room
	}
	if _, ok := room[c]; !ok {
		room[c] = &client{conn: c}
	}
}

func (h *Hub) Unregister(roomKey string, c conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomKey]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, roomKey)
	}
}

// ConnectionCount reports how many viewers are attached to a room.
func (h *Hub) ConnectionCount(roomKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey])
}

// Broadcast pushes payload to every connection registered for roomKey.
// A failed send removes only that connection; the rest still receive the
// event and the caller never sees an error.
func (h *Hub) Broadcast(roomKey string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws[%s]: marshal broadcast payload: %v", h.name, err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[roomKey]))
	for _, cl := range h.rooms[roomKey] {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	log.Printf(`{"ws":"%s","room":"%s","connections":%d}`, h.name, roomKey, len(clients))

	for _, cl := range clients {
		cl.writeMu.Lock()
		err := cl.conn.WriteMessage(websocket.TextMessage, data)
		cl.writeMu.Unlock()
		if err != nil {
			log.Printf("ws[%s]: dropping connection in room %s: %v", h.name, roomKey, err)
			h.Unregister(roomKey, cl.conn)
			_ = cl.conn.Close()
		}
	}
}
