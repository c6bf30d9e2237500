package room

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/example/doc-collab-engine/internal/patch"
	"github.com/example/doc-collab-engine/internal/types"
)

type sink struct {
	frames [][]byte
	fail   bool
}

func (s *sink) Send(payload []byte) error {
	if s.fail {
		return errors.New("closed")
	}
	s.frames = append(s.frames, payload)
	return nil
}

func TestReplaceAssignsStrictlyIncreasingVersions(t *testing.T) {
	r := New(42, "Hello", 0)

	var last int64
	for i := 0; i < 5; i++ {
		last = r.Replace(fmt.Sprintf("revision %d", i))
		if last != int64(i+1) {
			t.Fatalf("expected version %d, got %d", i+1, last)
		}
	}

	content, version := r.Snapshot()
	if version != 5 {
		t.Fatalf("expected final version 5, got %d", version)
	}
	if content != "revision 4" {
		t.Fatalf("expected last accepted payload, got %q", content)
	}
}

func TestApplyPatchAppendsAndBumpsVersion(t *testing.T) {
	codec := patch.NewDiffMatchPatch()
	r := New(1, "Hello World", 1)

	version, err := r.ApplyPatch(codec, makePatchText("Hello World", "Hello World!"))
	if err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}

	content, _ := r.Snapshot()
	if content != "Hello World!" {
		t.Fatalf("expected patched content, got %q", content)
	}
}

func TestApplyPatchRejectsGarbageWithoutMutation(t *testing.T) {
	codec := patch.NewDiffMatchPatch()
	r := New(1, "stable", 7)

	if _, err := r.ApplyPatch(codec, "@@ this is not a patch"); err == nil {
		t.Fatal("expected an error for a malformed patch set")
	}

	content, version := r.Snapshot()
	if content != "stable" || version != 7 {
		t.Fatalf("room mutated by rejected patch: content=%q version=%d", content, version)
	}
}

func TestAddSessionEnforcesCapacity(t *testing.T) {
	r := New(9, "", 0)

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("conn-%d", i)
		err := r.AddSession(id, &Session{Conn: &sink{}, ClientID: types.ClientID(id)}, 10)
		if err != nil {
			t.Fatalf("join %d rejected unexpectedly: %v", i, err)
		}
	}

	err := r.AddSession("conn-10", &Session{Conn: &sink{}}, 10)
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if r.SessionCount() != 10 {
		t.Fatalf("existing sessions disturbed: %d", r.SessionCount())
	}
}

func TestBroadcastSkipsClosedSessions(t *testing.T) {
	r := New(3, "", 0)
	open := &sink{}
	closed := &sink{fail: true}
	if err := r.AddSession("a", &Session{Conn: open}, 10); err != nil {
		t.Fatal(err)
	}
	if err := r.AddSession("b", &Session{Conn: closed}, 10); err != nil {
		t.Fatal(err)
	}

	sent := r.Broadcast([]byte(`{"type":"presence"}`))
	if sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	if len(open.frames) != 1 {
		t.Fatalf("open session missed the frame")
	}
}

func TestRegistryReusesLiveRoomOverStoredSnapshot(t *testing.T) {
	reg := NewRegistry()

	r := reg.GetOrCreate(42, "Hello", 0)
	r.Replace("Hello World")

	again := reg.GetOrCreate(42, "stale snapshot", 0)
	if again != r {
		t.Fatal("expected the live room, got a fresh one")
	}
	content, version := again.Snapshot()
	if content != "Hello World" || version != 1 {
		t.Fatalf("in-memory state lost: content=%q version=%d", content, version)
	}
}

func TestRegistryEvict(t *testing.T) {
	reg := NewRegistry()
	reg.GetOrCreate(7, "", 0)

	reg.Evict(7)
	if _, ok := reg.Lookup(7); ok {
		t.Fatal("room still present after eviction")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
}

func TestEvictDropsSessionGaugeSeries(t *testing.T) {
	reg := NewRegistry()
	r := reg.GetOrCreate(99, "", 0)
	if err := r.AddSession("a", &Session{Conn: &sink{}}, 10); err != nil {
		t.Fatal(err)
	}

	before := testutil.CollectAndCount(roomSessions)
	reg.Evict(99)
	after := testutil.CollectAndCount(roomSessions)
	if after != before-1 {
		t.Fatalf("gauge series not dropped on eviction: before=%d after=%d", before, after)
	}
}

// makePatchText produces the serialized patch-set a client would send.
func makePatchText(from, to string) string {
	dmp := diffmatchpatch.New()
	return dmp.PatchToText(dmp.PatchMake(from, to))
}
