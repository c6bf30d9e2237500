package saver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/doc-collab-engine/internal/room"
	"github.com/example/doc-collab-engine/internal/store"
	"github.com/example/doc-collab-engine/internal/types"
	"github.com/example/doc-collab-engine/internal/ws"
)

type memDocs struct {
	mu      sync.Mutex
	docs    map[types.DocumentID]types.Document
	saves   []types.Document
	saveErr error
}

func newMemDocs(seed ...types.Document) *memDocs {
	m := &memDocs{docs: make(map[types.DocumentID]types.Document)}
	for _, d := range seed {
		m.docs[d.ID] = d
	}
	return m
}

func (m *memDocs) FindByID(_ context.Context, id types.DocumentID) (types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return types.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (m *memDocs) FindByShareHash(context.Context, string) (types.Document, error) {
	return types.Document{}, store.ErrNotFound
}

func (m *memDocs) Save(_ context.Context, doc types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[doc.ID] = doc
	m.saves = append(m.saves, doc)
	return nil
}

func (m *memDocs) savedDocs() []types.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Document(nil), m.saves...)
}

type captureConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *captureConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, payload)
	return nil
}

func (c *captureConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func TestScheduleCollapsesBurstIntoOneSave(t *testing.T) {
	docs := newMemDocs(types.Document{ID: 5, Content: "Hello", Status: types.StatusActive})
	registry := room.NewRegistry()
	rm := registry.GetOrCreate(5, "Hello", 0)

	sched := NewScheduler(docs, registry, 40*time.Millisecond, nil, zerolog.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	rm.Replace("Hello W")
	sched.Schedule(5)
	time.Sleep(15 * time.Millisecond)
	rm.Replace("Hello World")
	sched.Schedule(5)

	time.Sleep(250 * time.Millisecond)

	saves := docs.savedDocs()
	if len(saves) != 1 {
		t.Fatalf("expected the burst to collapse into one save, got %d", len(saves))
	}
	if saves[0].Content != "Hello World" {
		t.Fatalf("expected the latest content persisted, got %q", saves[0].Content)
	}
	if saves[0].Version != 2 {
		t.Fatalf("expected version 2 persisted, got %d", saves[0].Version)
	}
}

func TestFlushPersistsImmediatelyAndCancelsPendingTimer(t *testing.T) {
	docs := newMemDocs(types.Document{ID: 8, Content: "", Status: types.StatusActive})
	registry := room.NewRegistry()
	rm := registry.GetOrCreate(8, "", 0)
	conn := &captureConn{}
	if err := rm.AddSession("c1", &room.Session{Conn: conn, ClientID: "alice"}, 10); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler(docs, registry, 50*time.Millisecond, nil, zerolog.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	rm.Replace("final text")
	sched.Schedule(8)
	sched.Flush(context.Background(), 8)

	saves := docs.savedDocs()
	if len(saves) != 1 {
		t.Fatalf("expected an immediate save, got %d", len(saves))
	}
	if saves[0].Content != "final text" {
		t.Fatalf("unexpected persisted content %q", saves[0].Content)
	}

	// The pending debounce timer was cancelled, so no second save fires.
	time.Sleep(200 * time.Millisecond)
	if got := len(docs.savedDocs()); got != 1 {
		t.Fatalf("cancelled timer still fired, %d saves", got)
	}

	var frame ws.SavedFrame
	frames := conn.received()
	if len(frames) == 0 {
		t.Fatal("no saved broadcast received")
	}
	if err := json.Unmarshal(frames[len(frames)-1], &frame); err != nil {
		t.Fatalf("decode saved frame: %v", err)
	}
	if frame.Type != ws.TypeSaved || frame.DocID != 8 || frame.Version != 1 {
		t.Fatalf("unexpected saved frame %+v", frame)
	}
	if _, err := time.Parse(time.RFC3339, frame.SavedAt); err != nil {
		t.Fatalf("savedAt not RFC3339: %v", err)
	}
}

func TestSaveFailureBroadcastsSaveError(t *testing.T) {
	docs := newMemDocs(types.Document{ID: 3, Status: types.StatusActive})
	docs.saveErr = errors.New("connection refused")
	registry := room.NewRegistry()
	rm := registry.GetOrCreate(3, "", 0)
	conn := &captureConn{}
	if err := rm.AddSession("c1", &room.Session{Conn: conn}, 10); err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler(docs, registry, time.Second, nil, zerolog.New(io.Discard))
	sched.Flush(context.Background(), 3)

	frames := conn.received()
	if len(frames) != 1 {
		t.Fatalf("expected one save-error frame, got %d frames", len(frames))
	}
	var frame ws.SaveErrorFrame
	if err := json.Unmarshal(frames[0], &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Type != ws.TypeSaveError || frame.DocID != 3 {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if frame.Message == "" {
		t.Fatal("expected an error message")
	}
}

func TestFlushSkipsEvictedRoom(t *testing.T) {
	docs := newMemDocs(types.Document{ID: 11, Status: types.StatusActive})
	registry := room.NewRegistry()

	sched := NewScheduler(docs, registry, time.Second, nil, zerolog.New(io.Discard))
	sched.Flush(context.Background(), 11)

	if got := len(docs.savedDocs()); got != 0 {
		t.Fatalf("save performed for a room that no longer exists, %d saves", got)
	}
}
