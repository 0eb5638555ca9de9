// Package server implements the broker-mediated chat server.
//
// Concurrency overview
// --------------------
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Bus handlers (one concurrent invocation per message)    │
//	│  login · logout · heartbeat · users · stats · messages   │
//	└───────────────────┬─────────────────────────────────────┘
//	                    │  atomic per-key operations
//	                    ▼
//	┌──────────────────────────────┐  ┌───────────────────────┐
//	│  session.Table (RWMutex map)  │  │  stats.Ledger          │
//	└──────────────────────────────┘  └──────────┬────────────┘
//	                                             │ async submits
//	┌─────────────────────────────┐   ┌──────────▼────────────┐
//	│  Sweep + server-heartbeat    │   │  stats.Archive         │
//	│  goroutines (ticker driven)  │   │  (SQLite worker pool)  │
//	└─────────────────────────────┘   └───────────────────────┘
//
// There is no central event loop: the broker dispatches every inbound message
// on its own goroutine, so the session table and the statistics ledger are the
// only synchronization points.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mqchat/internal/bus"
	"mqchat/internal/config"
	"mqchat/internal/protocol"
	"mqchat/internal/session"
	"mqchat/internal/stats"
)

// Server owns the session table, the color palette, and the statistics
// ledger, and adapts bus traffic onto them.
type Server struct {
	bus      bus.Bus
	sessions *session.Table
	palette  *session.Palette
	ledger   *stats.Ledger
	archive  *stats.Archive // nil when archiving is disabled

	timeout    time.Duration // session liveness timeout and sweep period
	hbInterval time.Duration // server heartbeat broadcast interval

	cancel context.CancelFunc
	unsubs []func()
}

// New creates a Server over b.  When cfg names an archive path the statistics
// ledger is seeded from it; an unreadable archive is logged and chat starts
// with empty counters rather than failing.
func New(b bus.Bus, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		bus:        b,
		sessions:   session.NewTable(),
		palette:    session.NewPalette(nil),
		ledger:     stats.NewLedger(),
		timeout:    cfg.ClientTimeout,
		hbInterval: cfg.ServerHeartbeatInterval,
	}

	if cfg.ArchivePath != "" {
		archive, err := stats.OpenArchive(cfg.ArchivePath, cfg.ArchiveWorkers)
		if err != nil {
			return nil, err
		}
		if err := archive.Load(s.ledger); err != nil {
			log.Printf("[stats] archive load: %v (starting with empty counters)", err)
		}
		s.archive = archive
	}

	return s, nil
}

// Start registers all bus handlers and launches the background loops.  The
// login responder and the message subscription are load-bearing and abort
// startup on failure; the remaining registrations degrade to partial-feature
// operation with a log line.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.mustRespond(protocol.TopicLogin, s.respondLogin); err != nil {
		return err
	}
	if err := s.mustSubscribe(protocol.TopicMessage, s.handleMessage); err != nil {
		return err
	}

	s.tryRespond(protocol.TopicUserList, s.respondUserList)
	s.tryRespond(protocol.TopicStats, s.respondStats)
	s.trySubscribe(protocol.TopicLogout, s.handleLogout)
	s.trySubscribe(protocol.TopicHeartbeat, s.handleHeartbeat)
	s.trySubscribe(protocol.TopicPrivate, s.handlePrivate)

	go s.runSweep(ctx)
	go s.runServerHeartbeat(ctx)

	log.Printf("[server] ready  timeout=%s heartbeat=%s", s.timeout, s.hbInterval)
	return nil
}

// Stop cancels the background loops, drops the bus registrations, and flushes
// the statistics archive.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, unsub := range s.unsubs {
		unsub()
	}
	if s.archive != nil {
		if err := s.archive.Close(s.ledger); err != nil {
			log.Printf("[stats] archive close: %v", err)
		}
	}
	log.Printf("[server] stopped")
}

func (s *Server) mustRespond(topic string, fn bus.Responder) error {
	unsub, err := s.bus.Respond(topic, fn)
	if err != nil {
		return fmt.Errorf("server: register responder %s: %w", topic, err)
	}
	s.unsubs = append(s.unsubs, unsub)
	return nil
}

func (s *Server) mustSubscribe(topic string, fn bus.Handler) error {
	unsub, err := s.bus.Subscribe(topic, fn)
	if err != nil {
		return fmt.Errorf("server: subscribe %s: %w", topic, err)
	}
	s.unsubs = append(s.unsubs, unsub)
	return nil
}

func (s *Server) tryRespond(topic string, fn bus.Responder) {
	if err := s.mustRespond(topic, fn); err != nil {
		log.Printf("[server] %v, continuing without %s", err, topic)
	}
}

func (s *Server) trySubscribe(topic string, fn bus.Handler) {
	if err := s.mustSubscribe(topic, fn); err != nil {
		log.Printf("[server] %v, continuing without %s", err, topic)
	}
}

// ---------------------------------------------------------------------------
// Message handlers
// ---------------------------------------------------------------------------

// handleMessage broadcasts a public chat message tagged with the sender's
// stored color and records it in the statistics ledger.  Command traffic
// (leading "/") is broadcast-eligible but never counted.
func (s *Server) handleMessage(data []byte) {
	var sub protocol.SubmitMessage
	if err := json.Unmarshal(data, &sub); err != nil {
		log.Printf("[server] malformed message: %v", err)
		return
	}

	sess, ok := s.sessions.Get(sub.Sender)
	if !ok {
		s.sendError(sub.Sender, "you must login before sending messages")
		return
	}

	msg := protocol.UserMessage{
		ID:        uuid.New().String(),
		Sender:    sess.Username,
		Color:     sess.Color,
		Text:      sub.Text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publishEvent(protocol.TopicEvents, protocol.EventMessage, msg); err != nil {
		log.Printf("[server] broadcast message: %v", err)
		s.sendError(sess.Username, "message could not be delivered")
		return
	}

	if !protocol.IsCommand(sub.Text) {
		s.ledger.Record(sess.Username)
		if s.archive != nil {
			// Canonical display name so the archive never grows one row
			// per login casing.
			s.archive.Submit(s.ledger.Entry(sess.Username))
		}
	}
}

// handlePrivate routes a private message to the recipient's scoped topic.
// Denials (unknown recipient, message-to-self) go back to the sender only.
func (s *Server) handlePrivate(data []byte) {
	var pm protocol.PrivateMessage
	if err := json.Unmarshal(data, &pm); err != nil {
		log.Printf("[server] malformed private message: %v", err)
		return
	}

	sender, ok := s.sessions.Get(pm.Sender)
	if !ok {
		s.sendError(pm.Sender, "you must login before sending messages")
		return
	}
	if session.Key(pm.Recipient) == session.Key(pm.Sender) {
		s.sendError(sender.Username, "you cannot send a private message to yourself")
		return
	}
	recipient, ok := s.sessions.Get(pm.Recipient)
	if !ok {
		s.sendError(sender.Username, fmt.Sprintf("user %q is not online", session.Trim(pm.Recipient)))
		return
	}

	out := protocol.PrivateMessage{
		Sender:    sender.Username,
		Recipient: recipient.Username,
		Color:     sender.Color,
		Text:      pm.Text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publishEvent(protocol.UserTopic(recipient.Username), protocol.EventPrivate, out); err != nil {
		log.Printf("[server] deliver private message: %v", err)
		s.sendError(sender.Username, "message could not be delivered")
	}
}

func (s *Server) respondStats(data []byte) []byte {
	var req protocol.StatisticsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[stats] malformed statistics request: %v", err)
		return mustMarshal(protocol.StatisticsResponse{Success: false})
	}

	total, average, top := s.ledger.Snapshot()
	entries := make([]protocol.StatisticsEntry, 0, len(top))
	for _, e := range top {
		entries = append(entries, protocol.StatisticsEntry{Username: e.Username, Count: e.Count})
	}
	return mustMarshal(protocol.StatisticsResponse{
		Success: true,
		Total:   total,
		Average: average,
		Top:     entries,
	})
}

// ---------------------------------------------------------------------------
// Publish helpers
// ---------------------------------------------------------------------------

// notify broadcasts a system notice to every client.  Best-effort: a publish
// failure is logged and swallowed.
func (s *Server) notify(text string) {
	err := s.publishEvent(protocol.TopicEvents, protocol.EventNotification,
		protocol.UserNotification{Text: text})
	if err != nil {
		log.Printf("[server] notify: %v", err)
	}
}

// sendError delivers a readable error to one user's scoped topic.  Internal
// errors are never broadcast.
func (s *Server) sendError(username, msg string) {
	name := session.Trim(username)
	if name == "" {
		return
	}
	err := s.publishEvent(protocol.UserTopic(name), protocol.EventError,
		protocol.ErrorEvent{Message: msg})
	if err != nil {
		log.Printf("[server] error event for %s: %v", name, err)
	}
}

func (s *Server) publishEvent(topic string, kind protocol.EventKind, payload any) error {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return s.bus.Publish(topic, data)
}

// mustMarshal serializes an RPC response.  The response types contain nothing
// unmarshalable, so a failure here is a programming error; callers still get
// valid JSON.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[server] marshal response: %v", err)
		return []byte(`{"success":false}`)
	}
	return data
}
