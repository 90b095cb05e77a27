package roomlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type captureSink struct {
	mu      sync.Mutex
	batches [][]Item
	fail    bool
}

func (c *captureSink) PersistOverflow(roomID string, entries []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("archive down")
	}
	cp := make([]Item, len(entries))
	copy(cp, entries)
	c.batches = append(c.batches, cp)
	return nil
}

func (c *captureSink) all() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Item
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func TestAppendTrimsBeyondBound(t *testing.T) {
	sink := &captureSink{}
	l := newTestLog(t, Options{MaxEntries: 100, Overflow: sink})
	ctx := context.Background()
	for i := 0; i < 101; i++ {
		if _, err := l.Append(ctx, int64(i), []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if got := l.Len(); got != 100 {
		t.Fatalf("want 100 retained entries, got %d", got)
	}
	items, err := l.ReadRange(1, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if items[0].Seq != 2 {
		t.Fatalf("oldest entry not evicted: first seq=%d", items[0].Seq)
	}
	evicted := sink.all()
	if len(evicted) != 1 || evicted[0].Seq != 1 {
		t.Fatalf("overflow sink did not receive evicted entry: %+v", evicted)
	}
}

func TestTrimKeepsEntriesWhenSinkFails(t *testing.T) {
	sink := &captureSink{fail: true}
	l := newTestLog(t, Options{MaxEntries: 2, Overflow: sink})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := l.Append(ctx, int64(i), []byte("m")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// The append itself succeeds; only the trim step reports the sink failure.
	if _, err := l.Append(ctx, 2, []byte("m")); err == nil {
		t.Fatalf("expected overflow sink error surfaced")
	}
	items, err := l.ReadRange(1, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("entries deleted despite sink failure: %d retained", len(items))
	}

	// Once the sink recovers, the next append drains the backlog.
	sink.fail = false
	if _, err := l.Append(ctx, 3, []byte("m")); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
	if got := l.Len(); got != 2 {
		t.Fatalf("want 2 retained after recovery, got %d", got)
	}
	if len(sink.all()) != 2 {
		t.Fatalf("want 2 archived after recovery, got %d", len(sink.all()))
	}
}

func TestInFlightRangeReadSurvivesTrim(t *testing.T) {
	sink := &captureSink{}
	l := newTestLog(t, Options{MaxEntries: 10, Overflow: sink})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := l.Append(ctx, int64(i), []byte("m")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Reader pages through the range while appends force evictions.
	items, err := l.ReadRange(1, 10)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, int64(100+i), []byte("new")); err != nil {
			t.Fatalf("append during replay: %v", err)
		}
	}
	// The snapshot taken before the trims is complete and ordered.
	if len(items) != 10 {
		t.Fatalf("in-flight read lost entries: %d", len(items))
	}
	var prev uint64
	for _, it := range items {
		if it.Seq <= prev {
			t.Fatalf("out of order: %d after %d", it.Seq, prev)
		}
		prev = it.Seq
	}
}
