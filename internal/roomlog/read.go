package roomlog

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
)

func iterBounds(low, hi []byte) *pebble.IterOptions {
	return &pebble.IterOptions{LowerBound: low, UpperBound: hi}
}

func (l *Log) entryBounds() *pebble.IterOptions {
	low := KeyLogEntry(l.roomID, 0)
	hi := KeyLogEntry(l.roomID, ^uint64(0))
	return iterBounds(low, append(hi, 0x00))
}

func seqFromEntryKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// ReadRange returns entries with fromSeq <= seq <= toSeq in ascending order.
// toSeq == 0 means "through latest". A room with no log yields an empty
// slice, not an error. Entries that fail their checksum are skipped.
func (l *Log) ReadRange(fromSeq, toSeq uint64) ([]Item, error) {
	if toSeq == 0 {
		toSeq = ^uint64(0)
	}
	iter, err := l.db.NewIter(l.entryBounds())
	if err != nil {
		return nil, fmt.Errorf("range iter: %w: %w", ErrUnavailable, err)
	}
	defer iter.Close()

	var items []Item
	start := KeyLogEntry(l.roomID, fromSeq)
	for ok := iter.SeekGE(start); ok; ok = iter.Next() {
		seq := seqFromEntryKey(iter.Key())
		if seq > toSeq {
			break
		}
		if ts, payload, ok := DecodeEntry(iter.Value()); ok {
			items = append(items, Item{Seq: seq, TsMs: ts, Payload: payload})
		}
	}
	return items, nil
}

// readAfter returns up to limit entries with seq > afterSeq in ascending order.
func (l *Log) readAfter(afterSeq uint64, limit int) ([]Item, error) {
	iter, err := l.db.NewIter(l.entryBounds())
	if err != nil {
		return nil, fmt.Errorf("read iter: %w: %w", ErrUnavailable, err)
	}
	defer iter.Close()

	var items []Item
	start := KeyLogEntry(l.roomID, afterSeq+1)
	for ok := iter.SeekGE(start); ok && (limit <= 0 || len(items) < limit); ok = iter.Next() {
		seq := seqFromEntryKey(iter.Key())
		if ts, payload, ok := DecodeEntry(iter.Value()); ok {
			items = append(items, Item{Seq: seq, TsMs: ts, Payload: payload})
		}
	}
	return items, nil
}
