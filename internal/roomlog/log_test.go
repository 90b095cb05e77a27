package roomlog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
)

func newTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestLog(t *testing.T, opts Options) *Log {
	t.Helper()
	l, err := Open(newTestDB(t), "r1", opts)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

func TestAppendAssignsStrictlyIncreasing(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	var prev uint64
	for i := 0; i < 10; i++ {
		seq, err := l.Append(ctx, int64(1000+i), []byte(fmt.Sprintf("m%d", i)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if seq <= prev {
			t.Fatalf("expected increasing seqs: %d then %d", prev, seq)
		}
		prev = seq
	}
}

func TestAppendDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	l, err := Open(db, "r1", Options{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	ctx := context.Background()
	seq1, err := l.Append(ctx, 1, []byte("x"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	l2, err := Open(db2, "r1", Options{})
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	seq2, err := l2.Append(ctx, 2, []byte("y"))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("expected next seq > previous: prev=%d next=%d", seq1, seq2)
	}
	items, err := l2.ReadRange(1, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 entries after reopen, got %d", len(items))
	}
}

func TestReadRangeOrderedNoGapsNoDuplicates(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	const n = 50
	for i := 0; i < n; i++ {
		if _, err := l.Append(ctx, int64(i), []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	items, err := l.ReadRange(1, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(items) != n {
		t.Fatalf("want %d items, got %d", n, len(items))
	}
	for i, it := range items {
		if it.Seq != uint64(i+1) {
			t.Fatalf("gap or duplicate at index %d: seq=%d", i, it.Seq)
		}
	}
}

func TestReadRangeInclusiveBounds(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := l.Append(ctx, int64(i), []byte("x")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	items, err := l.ReadRange(3, 7)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(items) != 5 || items[0].Seq != 3 || items[len(items)-1].Seq != 7 {
		t.Fatalf("inclusive bounds violated: %+v", items)
	}
}

func TestReadRangeEmptyRoom(t *testing.T) {
	l := newTestLog(t, Options{})
	items, err := l.ReadRange(1, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("want empty slice for room with no log, got %d items", len(items))
	}
}

func TestOpenRejectsUnsafeRoomIDs(t *testing.T) {
	db := newTestDB(t)
	for _, roomID := range []string{"", "a/b", "/", "a/"} {
		if _, err := Open(db, roomID, Options{}); !errors.Is(err, ErrBadRoomID) {
			t.Fatalf("room id %q: want ErrBadRoomID, got %v", roomID, err)
		}
	}
	if _, err := Open(db, "a-b.c_d", Options{}); err != nil {
		t.Fatalf("legal room id rejected: %v", err)
	}
}

func TestDestroyLeavesSiblingRoomsIntact(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a, err := Open(db, "a", Options{})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	ab, err := Open(db, "ab", Options{})
	if err != nil {
		t.Fatalf("open ab: %v", err)
	}
	if _, err := a.Append(ctx, 1, []byte("x")); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if _, err := ab.Append(ctx, 1, []byte("y")); err != nil {
		t.Fatalf("append ab: %v", err)
	}
	if err := ab.EnsureGroup(GroupName("ab")); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := a.Destroy(ctx); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	items, err := ab.ReadRange(1, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("sibling room lost entries: got %d", len(items))
	}
	if _, ok, err := ab.GetCursor(GroupName("ab")); err != nil || !ok {
		t.Fatalf("sibling room lost cursor: ok=%v err=%v", ok, err)
	}
}

func TestDestroyClearsAllRoomKeys(t *testing.T) {
	db := newTestDB(t)
	l, err := Open(db, "r1", Options{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	ctx := context.Background()
	if _, err := l.Append(ctx, 1, []byte("m")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.EnsureGroup(GroupName("r1")); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := l.Destroy(ctx); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	items, err := l.ReadRange(1, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("entries survived destroy")
	}
	if _, ok, err := l.GetCursor(GroupName("r1")); err != nil || ok {
		t.Fatalf("cursor survived destroy: ok=%v err=%v", ok, err)
	}
}
