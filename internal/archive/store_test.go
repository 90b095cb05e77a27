package archive

import (
	"context"
	"testing"

	"github.com/Jak-Sim/back-chat/internal/roomlog"
	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestPersistOverflowAndList(t *testing.T) {
	s := newTestStore(t)
	in := []roomlog.Item{
		{Seq: 1, TsMs: 10, Payload: []byte("a")},
		{Seq: 2, TsMs: 20, Payload: []byte("b")},
		{Seq: 3, TsMs: 30, Payload: []byte("c")},
	}
	if err := s.PersistOverflow("r1", in); err != nil {
		t.Fatalf("persist: %v", err)
	}
	out, err := s.List("r1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("want 3 archived, got %d", len(out))
	}
	for i, it := range out {
		if it.Seq != in[i].Seq || string(it.Payload) != string(in[i].Payload) {
			t.Fatalf("mismatch at %d: %+v", i, it)
		}
	}
}

func TestPersistOverflowIdempotentPerSeq(t *testing.T) {
	s := newTestStore(t)
	entry := []roomlog.Item{{Seq: 5, TsMs: 1, Payload: []byte("x")}}
	if err := s.PersistOverflow("r1", entry); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := s.PersistOverflow("r1", entry); err != nil {
		t.Fatalf("re-persist: %v", err)
	}
	out, err := s.List("r1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("duplicate archived entry: %d", len(out))
	}
}

func TestListScopedToRoom(t *testing.T) {
	s := newTestStore(t)
	_ = s.PersistOverflow("r1", []roomlog.Item{{Seq: 1, Payload: []byte("a")}})
	_ = s.PersistOverflow("r2", []roomlog.Item{{Seq: 1, Payload: []byte("b")}})
	out, err := s.List("r1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || string(out[0].Payload) != "a" {
		t.Fatalf("cross-room leak: %+v", out)
	}
}

func TestDrop(t *testing.T) {
	s := newTestStore(t)
	_ = s.PersistOverflow("r1", []roomlog.Item{{Seq: 1, Payload: []byte("a")}})
	if err := s.Drop(context.Background(), "r1"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	out, err := s.List("r1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("archive survived drop")
	}
}
