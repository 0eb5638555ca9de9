package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"mqchat/internal/protocol"
	"mqchat/internal/session"
)

// Validation and registration errors.  These are user-facing denial reasons,
// never server faults.
var (
	ErrEmptyUsername   = errors.New("username cannot be empty")
	ErrUsernameSpaces  = errors.New("username cannot contain spaces")
	ErrUsernameCharset = errors.New("username must be alphanumeric")
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

// validateUsername checks an already-trimmed username.  Violations are
// reported in a fixed order: empty, then interior spaces anywhere in the
// name, then the character set.
func validateUsername(name string) error {
	if name == "" {
		return ErrEmptyUsername
	}
	if strings.ContainsRune(name, ' ') {
		return ErrUsernameSpaces
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return ErrUsernameCharset
		}
	}
	return nil
}

// login validates and atomically registers a username.  The color is
// allocated before the insert; when the insert loses the duplicate race the
// color is simply discarded (allocation has no failure mode to roll back).
func (s *Server) login(username string) error {
	trimmed := session.Trim(username)
	if err := validateUsername(trimmed); err != nil {
		return err
	}

	color := s.palette.Next()
	sess := session.Session{
		Username:      trimmed,
		Color:         color,
		LastHeartbeat: time.Now(),
	}
	if !s.sessions.TryAdd(trimmed, sess) {
		return ErrAlreadyLoggedIn
	}

	// Statistics entry exists from first login on; an existing count is
	// kept as-is.
	s.ledger.Register(trimmed)

	// Join notice is best-effort: a publish failure never rolls back the
	// already-committed session.
	s.notify(fmt.Sprintf("%s joined the chat", trimmed))
	log.Printf("[registry] +%s color=%s online=%d", trimmed, color, s.sessions.Len())
	return nil
}

// logout removes the session.  Idempotent: logging out an absent user is a
// no-op and emits no notification.
func (s *Server) logout(username string) {
	trimmed := session.Trim(username)
	if !s.sessions.Remove(trimmed) {
		return
	}
	s.notify(fmt.Sprintf("%s left the chat", trimmed))
	log.Printf("[registry] -%s online=%d", trimmed, s.sessions.Len())
}

// ---------------------------------------------------------------------------
// Bus adapters
// ---------------------------------------------------------------------------

func (s *Server) respondLogin(data []byte) []byte {
	var req protocol.LoginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[registry] malformed login request: %v", err)
		return mustMarshal(protocol.LoginResponse{Success: false, Reason: "malformed request"})
	}

	if err := s.login(req.Username); err != nil {
		return mustMarshal(protocol.LoginResponse{Success: false, Reason: err.Error()})
	}
	return mustMarshal(protocol.LoginResponse{Success: true})
}

func (s *Server) handleLogout(data []byte) {
	var req protocol.LogoutRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[registry] malformed logout request: %v", err)
		return
	}
	s.logout(req.Username)
}

func (s *Server) respondUserList(data []byte) []byte {
	var req protocol.UserListRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[registry] malformed user list request: %v", err)
		return mustMarshal(protocol.UserListResponse{Success: false})
	}

	return mustMarshal(protocol.UserListResponse{
		Success: true,
		Users:   s.sessions.Names(),
	})
}
