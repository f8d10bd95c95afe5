package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/int-arsh/codenest/internal/broadcast"
	"github.com/int-arsh/codenest/internal/room"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotMember      = errors.New("not a member of room")
)

// Session tracks the single room a connection is in
type Session struct {
	ID          string
	ConnectedAt time.Time

	mu          sync.Mutex
	currentRoom string
	closed      bool
}

// CurrentRoom reports the room the connection is in, if any
func (s *Session) CurrentRoom() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom, s.currentRoom != ""
}

// Manager owns the session table. Each session's lock serialises that
// connection's joins, leaves and updates against its own disconnect.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	registry   *room.Registry
	dispatcher *broadcast.Dispatcher
	log        *slog.Logger
}

func NewManager(registry *room.Registry, dispatcher *broadcast.Dispatcher, logger *slog.Logger) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		registry:   registry,
		dispatcher: dispatcher,
		log:        logger,
	}
}

// Connect registers connID with no current room. Reconnecting an existing ID
// keeps the existing session.
func (m *Manager) Connect(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[connID]; ok {
		return
	}
	m.sessions[connID] = &Session{ID: connID, ConnectedAt: time.Now()}
	m.log.Info("session.connected", "conn", connID)
}

func (m *Manager) Get(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// lock returns the live session for connID with its lock held
func (m *Manager) lock(connID string) (*Session, error) {
	s, ok := m.Get(connID)
	if !ok {
		return nil, ErrUnknownSession
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Join leaves the current room, if any, then joins roomID and queues its
// initial state. If the new room refuses the join the connection ends up in
// no room.
func (m *Manager) Join(connID, roomID string) error {
	s, err := m.lock(connID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if prev := s.currentRoom; prev != "" {
		m.registry.RemoveMember(prev, connID)
		s.currentRoom = ""
		m.log.Info("session.left", "conn", connID, "room", prev, "implicit", true)
	}

	if err := m.dispatcher.Join(roomID, connID); err != nil {
		m.log.Warn("session.join_failed", "conn", connID, "room", roomID, "err", err)
		return err
	}

	s.currentRoom = roomID
	m.log.Info("session.joined", "conn", connID, "room", roomID)
	return nil
}

// Leave always drops the membership in roomID. The recorded room is cleared
// only when it is roomID.
func (m *Manager) Leave(connID, roomID string) error {
	s, err := m.lock(connID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	m.registry.RemoveMember(roomID, connID)
	if s.currentRoom == roomID {
		s.currentRoom = ""
	}
	m.log.Info("session.left", "conn", connID, "room", roomID)
	return nil
}

// Update stores code as roomID's content and fans it out to the other
// members. Only a connection currently in roomID may update it.
func (m *Manager) Update(connID, roomID, code string) (int, error) {
	s, err := m.lock(connID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if s.currentRoom != roomID {
		return 0, ErrNotMember
	}
	return m.dispatcher.BroadcastUpdate(roomID, code, connID), nil
}

// Disconnect leaves the current room and forgets the session.
func (m *Manager) Disconnect(connID string) error {
	m.mu.Lock()
	s, ok := m.sessions[connID]
	delete(m.sessions, connID)
	m.mu.Unlock()

	if !ok {
		return ErrUnknownSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.currentRoom != "" {
		m.registry.RemoveMember(s.currentRoom, connID)
		m.log.Info("session.left", "conn", connID, "room", s.currentRoom, "implicit", true)
		s.currentRoom = ""
	}
	m.log.Info("session.disconnected", "conn", connID)
	return nil
}
