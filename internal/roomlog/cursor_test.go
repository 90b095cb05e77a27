package roomlog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEnsureGroupIdempotent(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	if _, err := l.Append(ctx, 1, []byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	group := GroupName("r1")
	if err := l.EnsureGroup(group); err != nil {
		t.Fatalf("ensure 1: %v", err)
	}
	pos1, ok, err := l.GetCursor(group)
	if err != nil || !ok {
		t.Fatalf("cursor after ensure: ok=%v err=%v", ok, err)
	}

	// Advance the cursor, then ensure again: the cursor must not reset.
	if _, err := l.Append(ctx, 2, []byte("b")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.CommitCursor(group, 2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.EnsureGroup(group); err != nil {
		t.Fatalf("ensure 2: %v", err)
	}
	pos2, ok, err := l.GetCursor(group)
	if err != nil || !ok {
		t.Fatalf("cursor after re-ensure: ok=%v err=%v", ok, err)
	}
	if pos2 != 2 || pos2 < pos1 {
		t.Fatalf("ensure reset the cursor: before=%d after=%d", pos1, pos2)
	}
}

func TestEnsureGroupStartsAtLogStart(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, int64(i), []byte("old")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	group := GroupName("r1")
	if err := l.EnsureGroup(group); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// A fresh group sees every retained entry from the start of the log.
	items, err := l.ReadGroup(ctx, group, "c1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("want full retained history, got %d items", len(items))
	}
	if items[0].Seq != 1 || items[2].Seq != 3 {
		t.Fatalf("unexpected sequence window: %+v", items)
	}
}

func TestCommitCursorNeverRegresses(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, int64(i), []byte("m")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	group := GroupName("r1")
	if err := l.EnsureGroup(group); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := l.CommitCursor(group, 3); err != nil {
		t.Fatalf("commit 3: %v", err)
	}
	if err := l.CommitCursor(group, 2); err != nil {
		t.Fatalf("commit lower: %v", err)
	}
	pos, _, err := l.GetCursor(group)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pos != 3 {
		t.Fatalf("cursor regressed to %d", pos)
	}
}

func TestReadGroupAdvancesCursor(t *testing.T) {
	l := newTestLog(t, Options{})
	ctx := context.Background()
	group := GroupName("r1")
	if err := l.EnsureGroup(group); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, int64(i), []byte("m")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	items, err := l.ReadGroup(ctx, group, "c1", time.Second)
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("want 5 items, got %d", len(items))
	}
	// Second read must not re-deliver.
	items, err = l.ReadGroup(ctx, group, "c1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("read group again: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("duplicate delivery: %+v", items)
	}
}

func TestReadGroupMissingGroup(t *testing.T) {
	l := newTestLog(t, Options{})
	_, err := l.ReadGroup(context.Background(), GroupName("r1"), "c1", 10*time.Millisecond)
	if !errors.Is(err, ErrNoGroup) {
		t.Fatalf("want ErrNoGroup, got %v", err)
	}
}
