package saver

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/doc-collab-engine/internal/room"
	"github.com/example/doc-collab-engine/internal/store"
	"github.com/example/doc-collab-engine/internal/types"
	"github.com/example/doc-collab-engine/internal/ws"
)

// RoomSource exposes live room lookup to the save path. A room that has been
// evicted by the time its timer fires is simply skipped.
type RoomSource interface {
	Lookup(docID types.DocumentID) (*room.Room, bool)
}

// Scheduler debounces persistence so a burst of edits produces one write.
// Every mutation cancels the pending timer for its document and arms a new
// one; expired timers feed a single sequential worker that performs the
// store write and the saved/save-error broadcast.
type Scheduler struct {
	store    store.Documents
	rooms    RoomSource
	archiver *Archiver
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[types.DocumentID]*time.Timer

	work chan types.DocumentID
}

// NewScheduler constructs a Scheduler. The archiver may be nil.
func NewScheduler(docs store.Documents, rooms RoomSource, debounce time.Duration, archiver *Archiver, logger zerolog.Logger) *Scheduler {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Scheduler{
		store:    docs,
		rooms:    rooms,
		archiver: archiver,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[types.DocumentID]*time.Timer),
		work:     make(chan types.DocumentID, 128),
	}
}

// Start launches the shared save worker.
func (s *Scheduler) Start(ctx context.Context) {
	go s.worker(ctx)
}

// Schedule (re)arms the save timer for a document. Only the latest pending
// timer for a document survives.
func (s *Scheduler) Schedule(docID types.DocumentID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.pending[docID]; ok {
		t.Stop()
	}
	s.pending[docID] = time.AfterFunc(s.debounce, func() {
		s.expire(docID)
	})
	pendingSaves.Set(float64(len(s.pending)))
}

// Flush cancels any pending timer and persists the document immediately on
// the caller's goroutine. Used when the last session leaves a room so no
// edits are lost before eviction.
func (s *Scheduler) Flush(ctx context.Context, docID types.DocumentID) {
	s.cancel(docID)
	s.save(ctx, docID)
}

func (s *Scheduler) cancel(docID types.DocumentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[docID]; ok {
		t.Stop()
		delete(s.pending, docID)
	}
	pendingSaves.Set(float64(len(s.pending)))
}

func (s *Scheduler) expire(docID types.DocumentID) {
	s.cancel(docID)
	select {
	case s.work <- docID:
	default:
		// Worker badly backed up; the next mutation re-arms the timer.
		s.logger.Warn().Stringer("document", docID).Msg("save queue full, dropping scheduled save")
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case docID := <-s.work:
			s.save(ctx, docID)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) save(ctx context.Context, docID types.DocumentID) {
	rm, ok := s.rooms.Lookup(docID)
	if !ok {
		return
	}
	content, version := rm.Snapshot()

	start := time.Now()
	savedAt, err := s.persist(ctx, docID, content, version)
	observeSave(start, err)
	if err != nil {
		s.logger.Error().Err(err).Stringer("document", docID).Msg("failed to save document")
		rm.Broadcast(ws.Marshal(ws.SaveErrorFrame{
			Type:    ws.TypeSaveError,
			DocID:   docID,
			Message: "Failed to save: " + err.Error(),
		}))
		return
	}

	rm.Broadcast(ws.Marshal(ws.SavedFrame{
		Type:    ws.TypeSaved,
		DocID:   docID,
		Version: version,
		SavedAt: savedAt.Format(time.RFC3339),
	}))

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, docID, version, content); err != nil {
			s.logger.Warn().Err(err).Stringer("document", docID).Msg("content archive failed")
		}
	}
}

func (s *Scheduler) persist(ctx context.Context, docID types.DocumentID, content string, version int64) (time.Time, error) {
	doc, err := s.store.FindByID(ctx, docID)
	if err != nil {
		return time.Time{}, err
	}
	doc.Content = content
	doc.Version = version
	doc.LastModified = time.Now().UTC()
	if err := s.store.Save(ctx, doc); err != nil {
		return time.Time{}, err
	}
	return doc.LastModified, nil
}
