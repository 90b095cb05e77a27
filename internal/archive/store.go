package archive

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/Jak-Sim/back-chat/internal/roomlog"
	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
)

var archivePrefix = []byte("archive/")

func entryKey(roomID string, seq uint64) []byte {
	k := make([]byte, 0, len(archivePrefix)+len(roomID)+9)
	k = append(k, archivePrefix...)
	k = append(k, roomID...)
	k = append(k, '/')
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

func roomBounds(roomID string) (low, hi []byte) {
	low = make([]byte, 0, len(archivePrefix)+len(roomID)+1)
	low = append(low, archivePrefix...)
	low = append(low, roomID...)
	low = append(low, '/')
	hi = append(append([]byte{}, low...), 0xFF)
	return low, hi
}

// Store is a Pebble-backed long-term sink for trimmed room-log entries. It
// implements roomlog.OverflowSink.
type Store struct {
	db *pebblestore.DB
}

// New returns a Store writing into the given database.
func New(db *pebblestore.DB) *Store { return &Store{db: db} }

// PersistOverflow archives evicted entries atomically. Re-archiving the same
// sequence overwrites in place, so retried trims are harmless.
func (s *Store) PersistOverflow(roomID string, entries []roomlog.Item) error {
	if len(entries) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, e := range entries {
		if err := b.Set(entryKey(roomID, e.Seq), roomlog.EncodeEntry(e.TsMs, e.Payload), nil); err != nil {
			return fmt.Errorf("archive set: %w", err)
		}
	}
	if err := s.db.CommitBatch(context.Background(), b); err != nil {
		return fmt.Errorf("archive commit: %w", err)
	}
	return nil
}

// List returns up to limit archived entries for a room in ascending sequence
// order, starting at fromSeq. limit <= 0 means no limit.
func (s *Store) List(roomID string, fromSeq uint64, limit int) ([]roomlog.Item, error) {
	low, hi := roomBounds(roomID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, fmt.Errorf("archive iter: %w", err)
	}
	defer iter.Close()

	var items []roomlog.Item
	for ok := iter.SeekGE(entryKey(roomID, fromSeq)); ok && (limit <= 0 || len(items) < limit); ok = iter.Next() {
		seq := binary.BigEndian.Uint64(iter.Key()[len(iter.Key())-8:])
		if ts, payload, ok := roomlog.DecodeEntry(iter.Value()); ok {
			items = append(items, roomlog.Item{Seq: seq, TsMs: ts, Payload: payload})
		}
	}
	return items, nil
}

// Drop removes a room's entire archived history. Called on room deletion.
func (s *Store) Drop(ctx context.Context, roomID string) error {
	low, hi := roomBounds(roomID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return fmt.Errorf("archive iter: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := b.Delete(iter.Key(), nil); err != nil {
			_ = iter.Close()
			return fmt.Errorf("archive delete: %w", err)
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("archive iter close: %w", err)
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("archive commit: %w", err)
	}
	return nil
}
