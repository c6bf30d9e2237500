package room

import (
	"errors"
	"sync"

	"github.com/example/doc-collab-engine/internal/patch"
	"github.com/example/doc-collab-engine/internal/types"
)

// ErrRoomFull is returned when a join would exceed the session capacity.
var ErrRoomFull = errors.New("room is full")

// Sender delivers an encoded frame to one connected client. Implementations
// report an error when the underlying transport is no longer open; broadcast
// paths skip such sessions.
type Sender interface {
	Send(payload []byte) error
}

// Session is one connected client's membership within a Room. The Room owns
// the registration; the gateway owns the underlying transport.
type Session struct {
	Conn     Sender
	ClientID types.ClientID
	Name     string
	Color    string
	Role     types.Role
}

// Room holds the canonical in-memory state for one actively edited document.
// The (content, version) pair is guarded by the room's own mutex; the session
// table has separate internal locking so presence reads never contend with
// content mutation.
type Room struct {
	docID types.DocumentID

	mu      sync.Mutex
	content string
	version int64

	sessMu   sync.RWMutex
	sessions map[string]*Session
}

// New seeds a Room from the stored document snapshot.
func New(docID types.DocumentID, content string, version int64) *Room {
	return &Room{
		docID:    docID,
		content:  content,
		version:  version,
		sessions: make(map[string]*Session),
	}
}

// DocumentID returns the identity key of the room.
func (r *Room) DocumentID() types.DocumentID { return r.docID }

// Snapshot returns the current canonical content and version.
func (r *Room) Snapshot() (string, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content, r.version
}

// Replace overwrites the canonical content wholesale and returns the new
// version. Interleaved edits not yet echoed to the replacing client are
// discarded; full replaces are last-writer-wins.
func (r *Room) Replace(content string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content = content
	r.version++
	return r.version
}

// ApplyPatch applies a serialized patch-set against the current canonical
// content. Partially failed hunks are accepted as best effort; the per-hunk
// results from the codec are not inspected. A patch-set that fails to parse
// leaves the room untouched.
func (r *Room) ApplyPatch(codec patch.Codec, patches string) (int64, error) {
	set, err := codec.Deserialize(patches)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.content, _ = codec.Apply(r.content, set)
	r.version++
	return r.version, nil
}

// AddSession registers a session under the connection identifier, enforcing
// the capacity limit atomically with the insert.
func (r *Room) AddSession(connID string, s *Session, capacity int) error {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	if capacity > 0 && len(r.sessions) >= capacity {
		return ErrRoomFull
	}
	r.sessions[connID] = s
	roomSessions.WithLabelValues(r.docID.String()).Set(float64(len(r.sessions)))
	return nil
}

// RemoveSession drops the registration and returns the remaining count.
func (r *Room) RemoveSession(connID string) int {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	delete(r.sessions, connID)
	roomSessions.WithLabelValues(r.docID.String()).Set(float64(len(r.sessions)))
	return len(r.sessions)
}

// Session looks up the registration for a connection.
func (r *Room) Session(connID string) (*Session, bool) {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// SessionCount returns the number of live registrations.
func (r *Room) SessionCount() int {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	return len(r.sessions)
}

// Users projects every session to the wire-level presence record.
func (r *Room) Users() []types.RoomUser {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	users := make([]types.RoomUser, 0, len(r.sessions))
	for _, s := range r.sessions {
		users = append(users, types.RoomUser{
			ClientID: s.ClientID,
			Name:     s.Name,
			Color:    s.Color,
			Role:     s.Role,
		})
	}
	return users
}

// Broadcast fans the payload out to every session in the room, including the
// originator. Sessions whose transport has gone away are skipped.
func (r *Room) Broadcast(payload []byte) int {
	r.sessMu.RLock()
	recipients := make([]Sender, 0, len(r.sessions))
	for _, s := range r.sessions {
		recipients = append(recipients, s.Conn)
	}
	r.sessMu.RUnlock()

	sent := 0
	for _, conn := range recipients {
		if err := conn.Send(payload); err == nil {
			sent++
		}
	}
	return sent
}
