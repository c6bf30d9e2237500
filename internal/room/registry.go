package room

import (
	"sync"

	"github.com/example/doc-collab-engine/internal/types"
)

// Registry is the process-wide table of live rooms keyed by document ID.
// Rooms are created lazily on first join and evicted once their final save
// has completed.
type Registry struct {
	mu    sync.RWMutex
	rooms map[types.DocumentID]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[types.DocumentID]*Room)}
}

// GetOrCreate returns the live room for a document, creating one seeded from
// the provided stored snapshot when absent. An existing room's in-memory
// state always wins over the snapshot; the store is stale once a room is live.
func (g *Registry) GetOrCreate(docID types.DocumentID, content string, version int64) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[docID]; ok {
		return r
	}
	r := New(docID, content, version)
	g.rooms[docID] = r
	liveRooms.Set(float64(len(g.rooms)))
	return r
}

// Lookup returns the live room for a document, if any.
func (g *Registry) Lookup(docID types.DocumentID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[docID]
	return r, ok
}

// Evict removes the room from the registry and drops its per-document
// session gauge series.
func (g *Registry) Evict(docID types.DocumentID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, docID)
	liveRooms.Set(float64(len(g.rooms)))
	roomSessions.DeleteLabelValues(docID.String())
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
