package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Attach upgrades the request and keeps the connection registered until the
// client goes away. Client frames are read and discarded; they only serve
// as keepalives.
func (h *Hub) Attach(w http.ResponseWriter, r *http.Request, roomKey string) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws[%s]: upgrade failed for room %s: %v", h.name, roomKey, err)
		return
	}
	h.Register(roomKey, c)
	defer func() {
		h.Unregister(roomKey, c)
		_ = c.Close()
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
