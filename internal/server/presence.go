package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"mqchat/internal/protocol"
	"mqchat/internal/session"
)

// sweepErrorDelay is the extra pause after an unexpected sweep failure so a
// persistent fault does not turn into a tight error loop.
const sweepErrorDelay = time.Second

// handleHeartbeat refreshes a session's liveness timestamp.  A heartbeat may
// arrive before (or instead of) a completed login, e.g. after a transient
// registry failure; in that case a session is synthesized with the fallback
// color so the user is at least tracked until the next sweep.
func (s *Server) handleHeartbeat(data []byte) {
	var hb protocol.Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		log.Printf("[presence] malformed heartbeat: %v", err)
		return
	}
	name := session.Trim(hb.Username)
	if name == "" {
		log.Printf("[presence] heartbeat without username dropped")
		return
	}

	now := time.Now()
	s.sessions.Upsert(name, func(cur session.Session, ok bool) session.Session {
		if !ok {
			return session.Session{
				Username:      name,
				Color:         s.palette.Default(),
				LastHeartbeat: now,
			}
		}
		return cur.WithHeartbeat(now)
	})
}

// runSweep evicts sessions whose heartbeat has gone stale.  The tick period
// equals the timeout, so a stale session is gone within two timeouts of its
// last heartbeat.  Cancellation is honored between ticks, never mid-tick.
func (s *Server) runSweep(ctx context.Context) {
	ticker := time.NewTicker(s.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[presence] sweep stopped")
			return
		case now := <-ticker.C:
			if err := s.sweep(now); err != nil {
				log.Printf("[presence] sweep failed: %v", err)
				select {
				case <-time.After(sweepErrorDelay):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// sweep performs one eviction pass.  A failure on one user never aborts the
// rest of the batch; a panic is converted to an error so the loop survives.
func (s *Server) sweep(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()

	for _, name := range s.sessions.Stale(now, s.timeout) {
		// Remove may lose the race against a concurrent logout; only the
		// winner announces the departure.
		if !s.sessions.Remove(name) {
			continue
		}
		s.notify(fmt.Sprintf("%s left the chat (timeout)", name))
		log.Printf("[presence] evicted %s (no heartbeat for >%s)", name, s.timeout)
	}
	return nil
}

// runServerHeartbeat periodically publishes the server's own liveness signal.
// Clients that stop receiving it flag the server unreachable and suppress
// outgoing requests instead of blocking on them.
func (s *Server) runServerHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.hbInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			data := mustMarshal(protocol.ServerHeartbeat{Timestamp: now})
			if err := s.bus.Publish(protocol.TopicServerHeartbeat, data); err != nil {
				log.Printf("[presence] server heartbeat publish: %v", err)
			}
		}
	}
}
