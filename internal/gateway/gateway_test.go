package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mqchat/internal/bus"
	"mqchat/internal/protocol"
)

func dialTestGateway(t *testing.T, b bus.Bus) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(New(b))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readPacket(t *testing.T, ws *websocket.Conn) packet {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(time.Second))
	var pkt packet
	if err := ws.ReadJSON(&pkt); err != nil {
		t.Fatalf("read packet: %v", err)
	}
	return pkt
}

func TestGatewayLoginBridgesRPC(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	unsub, err := b.Respond(protocol.TopicLogin, func(data []byte) []byte {
		resp, _ := json.Marshal(protocol.LoginResponse{Success: true})
		return resp
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	defer unsub()

	ws := dialTestGateway(t, b)
	payload, _ := json.Marshal(protocol.LoginRequest{Username: "Anton"})
	if err := ws.WriteJSON(packet{Type: "login", Payload: payload}); err != nil {
		t.Fatalf("write login: %v", err)
	}

	pkt := readPacket(t, ws)
	if pkt.Type != "login" {
		t.Fatalf("packet type = %q, want login", pkt.Type)
	}
	var resp protocol.LoginResponse
	if err := json.Unmarshal(pkt.Payload, &resp); err != nil || !resp.Success {
		t.Errorf("login response = %s (err %v)", pkt.Payload, err)
	}
}

func TestGatewayForwardsMessagesToBus(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	got := make(chan protocol.SubmitMessage, 1)
	unsub, err := b.Subscribe(protocol.TopicMessage, func(data []byte) {
		var sub protocol.SubmitMessage
		if json.Unmarshal(data, &sub) == nil {
			got <- sub
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	ws := dialTestGateway(t, b)
	payload, _ := json.Marshal(protocol.SubmitMessage{Sender: "Anton", Text: "hi"})
	if err := ws.WriteJSON(packet{Type: "message", Payload: payload}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	select {
	case sub := <-got:
		if sub.Sender != "Anton" || sub.Text != "hi" {
			t.Errorf("forwarded = %+v", sub)
		}
	case <-time.After(time.Second):
		t.Fatal("message not forwarded to the bus")
	}
}

func TestGatewayRelaysEventsAfterLogin(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	unsub, err := b.Respond(protocol.TopicLogin, func([]byte) []byte {
		resp, _ := json.Marshal(protocol.LoginResponse{Success: true})
		return resp
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	defer unsub()

	ws := dialTestGateway(t, b)
	payload, _ := json.Marshal(protocol.LoginRequest{Username: "Anton"})
	if err := ws.WriteJSON(packet{Type: "login", Payload: payload}); err != nil {
		t.Fatalf("write login: %v", err)
	}
	readPacket(t, ws) // login response

	env, _ := protocol.NewEnvelope(protocol.EventNotification,
		protocol.UserNotification{Text: "Bea joined the chat"})
	data, _ := env.Encode()
	if err := b.Publish(protocol.TopicEvents, data); err != nil {
		t.Fatalf("publish event: %v", err)
	}

	pkt := readPacket(t, ws)
	if pkt.Type != "event" {
		t.Fatalf("packet type = %q, want event", pkt.Type)
	}
	var relayed protocol.Envelope
	if err := json.Unmarshal(pkt.Payload, &relayed); err != nil {
		t.Fatalf("decode relayed envelope: %v", err)
	}
	if relayed.Kind != protocol.EventNotification {
		t.Errorf("relayed kind = %q", relayed.Kind)
	}
}

func TestGatewayRejectsUnknownPacketType(t *testing.T) {
	b := bus.NewMemory()
	defer b.Close()

	ws := dialTestGateway(t, b)
	if err := ws.WriteJSON(packet{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	pkt := readPacket(t, ws)
	if pkt.Type != "error" {
		t.Errorf("packet type = %q, want error", pkt.Type)
	}
}
