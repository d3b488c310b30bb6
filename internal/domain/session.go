package domain

import (
	"sync"
	"time"
)

// Session holds the mutable per-connection attributes: the single room the
// connection currently watches and the application identity bound to it.
// Both are in-memory only and die with the connection; reconnecting clients
// must re-issue join-room and set-user-identity.
type Session struct {
	ID            string
	UserID        string
	CurrentRoomID string
	CreatedAt     time.Time
	LastActiveAt  time.Time
	mu            sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// BindUser associates an application user id with the connection.
// Last write wins; the id is not validated against any identity store.
func (s *Session) BindUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserID = userID
	s.LastActiveAt = time.Now()
}

// UnbindUser clears the bound user id.
func (s *Session) UnbindUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserID = ""
	s.LastActiveAt = time.Now()
}

func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserID
}

func (s *Session) JoinRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentRoomID = roomID
	s.LastActiveAt = time.Now()
}

func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentRoomID = ""
	s.LastActiveAt = time.Now()
}

func (s *Session) GetRoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentRoomID
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
