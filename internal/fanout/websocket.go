package fanout

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSClient adapts one websocket connection to the Subscriber interface, the
// same register/send-channel/writePump shape as the teacher's api.Client.
type WSClient struct {
	conn *websocket.Conn
	send chan Event
	hub  *Hub
}

func (c *WSClient) Deliver(e Event) bool {
	select {
	case c.send <- e:
		return true
	default:
		return false
	}
}

// Handler upgrades an HTTP request to a websocket and joins the client to
// the topics named in its "topics" query parameter (comma-separated),
// defaulting to "all" when absent.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[FANOUT] upgrade failed: %v", err)
		return
	}

	requested := r.URL.Query().Get("topics")
	var topics map[Topic]bool
	if requested == "" {
		topics = map[Topic]bool{TopicAll: true}
	} else {
		topics = ParseTopics(strings.Split(requested, ","))
	}

	client := &WSClient{conn: conn, send: make(chan Event, 256), hub: h}
	if err := h.Join(client, topics); err != nil {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *WSClient) writePump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()
	for e := range c.send {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
