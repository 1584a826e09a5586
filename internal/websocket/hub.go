package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"prima/internal/logger"
	"prima/internal/middleware"
	"prima/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Message is the envelope of every push: Type is "view" or "transaction".
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client represents one connection of an authenticated actor
type Client struct {
	Hub   *Hub
	Conn  *websocket.Conn
	Send  chan []byte
	Actor string
}

type delivery struct {
	actor   string
	payload []byte
}

// Hub keeps the live connections per actor and routes pushes to them
type Hub struct {
	clients    map[string]map[*Client]bool
	publish    chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	log        zerolog.Logger
}

var _ service.Publisher = (*Hub)(nil)

// NewHub creates a hub accepting browser connections from origins. Clients that send no Origin
// header (non-browser) are accepted.
func NewHub(origins []string) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(origin, origins)
			},
		},
		publish:    make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
		log:        logger.WithComponent("websocket"),
	}
}

// Run is the dispatch loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					close(client.Send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Actor] == nil {
				h.clients[client.Actor] = make(map[*Client]bool)
			}
			h.clients[client.Actor][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("actor", client.Actor).Msg("client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
			h.log.Debug().Str("actor", client.Actor).Msg("client disconnected")
		case d := <-h.publish:
			h.mu.Lock()
			for client := range h.clients[d.actor] {
				select {
				case client.Send <- d.payload:
				default:
					// slow consumer
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) drop(client *Client) {
	set := h.clients[client.Actor]
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.Send)
	if len(set) == 0 {
		delete(h.clients, client.Actor)
	}
}

// Publish queues a message for every connection of actor. It never blocks; when the queue is
// full the message is dropped and clients catch up on the next push or refetch.
func (h *Hub) Publish(actor string, kind string, payload interface{}) {
	raw, err := json.Marshal(Message{Type: kind, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("type", kind).Msg("failed to encode push")
		return
	}
	select {
	case h.publish <- delivery{actor: strings.ToLower(actor), payload: raw}:
	default:
		h.log.Warn().Str("actor", actor).Str("type", kind).Msg("push queue full, dropping message")
	}
}

// PublishView pushes an applied view to its actor.
func (h *Hub) PublishView(snap service.ViewSnapshot) {
	h.Publish(snap.Key.Actor.String(), service.PushView, service.NewViewResponse(snap))
}

// Connections counts the live connections of actor.
func (h *Hub) Connections(actor string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[strings.ToLower(actor)])
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		_ = c.Conn.Close()
	}()
	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump drains the connection so close frames are processed
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		_ = c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn().Err(err).Str("actor", c.Actor).Msg("connection closed unexpectedly")
			}
			return
		}
	}
}

// ServeWs authenticates the session (token query parameter, cookie or bearer header) and
// upgrades the connection.
func ServeWs(hub *Hub, c *gin.Context, sessions service.SessionService) {
	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString, _ = middleware.TokenFromRequest(c)
	}
	if tokenString == "" {
		hub.log.Debug().Msg("connection rejected: missing token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	sess, err := sessions.ParseToken(tokenString)
	if err != nil {
		hub.log.Debug().Err(err).Msg("connection rejected: invalid token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), Actor: strings.ToLower(sess.Actor.String())}
	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
