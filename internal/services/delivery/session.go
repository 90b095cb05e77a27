package deliverysvc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownSession is returned for operations referencing a session that is
// not connected.
var ErrUnknownSession = errors.New("unknown session")

// Sink receives events for one connected session. Implementations must not
// block; a slow transport buffers or drops on its own side.
type Sink interface {
	Deliver(ev Event) error
}

// roomState tracks one session's delivery progress within one room. Guarded
// by the owning memberTable's mutex.
type roomState struct {
	// replaying is set between join and the end of history replay. Live
	// events arriving in that window are parked in pending.
	replaying bool
	// hwm is the highest log sequence already delivered to this session for
	// this room. Events at or below it are duplicates and are dropped.
	hwm     uint64
	pending []Event
}

// Session is one connected client transport.
type Session struct {
	id     string
	userID string
	sink   Sink
	rooms  map[string]*roomState
}

// ID returns the transport-scoped session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user the session belongs to.
func (s *Session) UserID() string { return s.userID }

// memberTable is the authoritative registry of connected sessions and their
// room memberships. Live member counts are always recomputed by scanning the
// table rather than kept as counters that could drift.
type memberTable struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemberTable() *memberTable {
	return &memberTable{sessions: make(map[string]*Session)}
}

func (t *memberTable) connect(userID string, sink Sink) *Session {
	s := &Session{
		id:     uuid.NewString(),
		userID: userID,
		sink:   sink,
		rooms:  make(map[string]*roomState),
	}
	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()
	return s
}

// disconnect removes the session and returns the rooms it was a member of,
// so the caller can release any now-idle subscriptions.
func (t *memberTable) disconnect(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(t.sessions, sessionID)
	rooms := make([]string, 0, len(s.rooms))
	for roomID := range s.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (t *memberTable) get(sessionID string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	return s, ok
}

// join adds the session to the room in the replaying state. Returns false
// with a nil error when the session is already a member; joins are
// idempotent.
func (t *memberTable) join(sessionID, roomID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return false, fmt.Errorf("join room %s: %w", roomID, ErrUnknownSession)
	}
	if _, ok := s.rooms[roomID]; ok {
		return false, nil
	}
	s.rooms[roomID] = &roomState{replaying: true}
	return true, nil
}

// leave removes the membership. Leaving a room the session is not in is a
// no-op.
func (t *memberTable) leave(sessionID, roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return fmt.Errorf("leave room %s: %w", roomID, ErrUnknownSession)
	}
	delete(s.rooms, roomID)
	return nil
}

// dropRoom removes every session's membership of a room. Used when the room
// itself is deleted.
func (t *memberTable) dropRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		delete(s.rooms, roomID)
	}
}

// LiveCount recomputes the number of connected members of a room.
func (t *memberTable) LiveCount(roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.sessions {
		if _, ok := s.rooms[roomID]; ok {
			n++
		}
	}
	return n
}
