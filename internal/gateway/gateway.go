// Package gateway bridges websocket clients onto the chat bus so browser
// frontends can join the same rooms as the terminal client.  Each websocket
// packet maps to exactly one bus topic; broadcast and scoped events flow back
// over the same connection.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mqchat/internal/bus"
	"mqchat/internal/protocol"
)

const (
	sendBufSize  = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	rpcTimeout   = 5 * time.Second
)

// packet is the websocket wire format: one JSON object per message.
type packet struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway fronts a chat demo, not an origin-sensitive API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Gateway upgrades HTTP connections and runs one bridge per client.
type Gateway struct {
	bus bus.Bus
}

// New creates a Gateway over b.
func New(b bus.Bus) *Gateway {
	return &Gateway{bus: b}
}

// ServeHTTP upgrades the request and runs the connection's pumps.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade: %v", err)
		return
	}

	c := &conn{
		gw:   g,
		ws:   ws,
		send: make(chan []byte, sendBufSize),
	}
	go c.writePump()
	c.readPump()
}

// conn is one bridged websocket client.
type conn struct {
	gw   *Gateway
	ws   *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	username string
	unsubs   []func()
	closed   bool
}

// readPump consumes websocket packets and dispatches them to the bus.  When
// the connection drops, the user is logged out server-side so peers see a
// leave notice even without an explicit /quit.
func (c *conn) readPump() {
	defer func() {
		c.mu.Lock()
		unsubs := c.unsubs
		name := c.username
		c.closed = true // relay handlers still in flight must not touch send
		c.mu.Unlock()

		for _, unsub := range unsubs {
			unsub()
		}
		if name != "" {
			data, _ := json.Marshal(protocol.LogoutRequest{Username: name})
			if err := c.gw.bus.Publish(protocol.TopicLogout, data); err != nil {
				log.Printf("[gateway] logout on disconnect: %v", err)
			}
		}
		close(c.send)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var pkt packet
		if err := json.Unmarshal(data, &pkt); err != nil {
			c.sendPacket("error", protocol.ErrorEvent{Message: "malformed packet"})
			continue
		}
		c.handlePacket(&pkt)
	}
}

// writePump drains the send channel onto the websocket, pinging periodically
// so half-dead connections are detected.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handlePacket maps one inbound packet to one bus interaction.
func (c *conn) handlePacket(pkt *packet) {
	switch pkt.Type {
	case "login":
		c.handleLogin(pkt.Payload)
	case "logout":
		c.forward(protocol.TopicLogout, pkt.Payload)
	case "heartbeat":
		c.forward(protocol.TopicHeartbeat, pkt.Payload)
	case "message":
		c.forward(protocol.TopicMessage, pkt.Payload)
	case "private":
		c.forward(protocol.TopicPrivate, pkt.Payload)
	case "users":
		c.rpc("users", protocol.TopicUserList, pkt.Payload)
	case "stats":
		c.rpc("stats", protocol.TopicStats, pkt.Payload)
	default:
		c.sendPacket("error", protocol.ErrorEvent{Message: "unknown packet type " + pkt.Type})
	}
}

// handleLogin performs the login RPC and, on success, wires this connection
// to the broadcast and scoped event topics.
func (c *conn) handleLogin(payload json.RawMessage) {
	var req protocol.LoginRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendPacket("error", protocol.ErrorEvent{Message: "login requires {username}"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	reply, err := c.gw.bus.Request(ctx, protocol.TopicLogin, payload)
	if err != nil {
		log.Printf("[gateway] login request: %v", err)
		c.sendPacket("login", protocol.LoginResponse{Success: false, Reason: "server unavailable"})
		return
	}

	var resp protocol.LoginResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		c.sendPacket("login", protocol.LoginResponse{Success: false, Reason: "malformed server reply"})
		return
	}
	if resp.Success {
		c.attachEvents(req.Username)
	}
	c.sendRaw("login", reply)
}

// attachEvents subscribes the connection to broadcast events, the user's
// scoped topic, and the server heartbeat, relaying each onto the websocket.
func (c *conn) attachEvents(username string) {
	relay := func(kind string) bus.Handler {
		return func(data []byte) { c.sendRaw(kind, data) }
	}

	var unsubs []func()
	for topic, kind := range map[string]string{
		protocol.TopicEvents:          "event",
		protocol.UserTopic(username):  "event",
		protocol.TopicServerHeartbeat: "server_heartbeat",
	} {
		unsub, err := c.gw.bus.Subscribe(topic, relay(kind))
		if err != nil {
			log.Printf("[gateway] subscribe %s: %v", topic, err)
			continue
		}
		unsubs = append(unsubs, unsub)
	}

	c.mu.Lock()
	c.username = username
	c.unsubs = append(c.unsubs, unsubs...)
	c.mu.Unlock()
}

// forward publishes a client payload verbatim to a bus topic.
func (c *conn) forward(topic string, payload json.RawMessage) {
	if err := c.gw.bus.Publish(topic, payload); err != nil {
		log.Printf("[gateway] publish %s: %v", topic, err)
		c.sendPacket("error", protocol.ErrorEvent{Message: "message could not be delivered"})
	}
}

// rpc performs a bus request and relays the raw reply.
func (c *conn) rpc(kind, topic string, payload json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	reply, err := c.gw.bus.Request(ctx, topic, payload)
	if err != nil {
		log.Printf("[gateway] request %s: %v", topic, err)
		c.sendPacket("error", protocol.ErrorEvent{Message: "request failed"})
		return
	}
	c.sendRaw(kind, reply)
}

// sendPacket marshals payload and queues it.  Non-blocking: a stuck client
// loses packets instead of stalling the bridge.
func (c *conn) sendPacket(kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.sendRaw(kind, raw)
}

func (c *conn) sendRaw(kind string, raw json.RawMessage) {
	data, err := json.Marshal(packet{Type: kind, Payload: raw})
	if err != nil {
		return
	}

	// The non-blocking send happens under mu so no relay handler can race
	// the close of c.send during connection teardown.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[gateway] send buffer full, dropping packet for %s", c.username)
	}
}
