package roomlog

import (
	"context"
	"fmt"
)

// trimLocked evicts the n oldest entries. Evicted entries are handed to the
// overflow sink before deletion; if the sink fails nothing is deleted and the
// entries remain retrievable until a later append retries. Called with l.mu
// held.
func (l *Log) trimLocked(ctx context.Context, n uint64) error {
	iter, err := l.db.NewIter(l.entryBounds())
	if err != nil {
		return fmt.Errorf("trim iter: %w: %w", ErrUnavailable, err)
	}

	evicted := make([]Item, 0, n)
	keys := make([][]byte, 0, n)
	for ok := iter.First(); ok && uint64(len(keys)) < n; ok = iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
		if ts, payload, ok := DecodeEntry(iter.Value()); ok {
			evicted = append(evicted, Item{Seq: seqFromEntryKey(iter.Key()), TsMs: ts, Payload: payload})
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("trim iter close: %w: %w", ErrUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}

	if len(evicted) > 0 {
		if err := l.overflow.PersistOverflow(l.roomID, evicted); err != nil {
			return fmt.Errorf("persist overflow: %w", err)
		}
	}

	b := l.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete(k, nil); err != nil {
			return fmt.Errorf("trim delete: %w: %w", ErrUnavailable, err)
		}
	}
	newCount := l.count - uint64(len(keys))
	if err := b.Set(KeyLogMeta(l.roomID), encodeMeta(l.lastSeq, newCount), nil); err != nil {
		return fmt.Errorf("trim meta: %w: %w", ErrUnavailable, err)
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("trim commit: %w: %w", ErrUnavailable, err)
	}
	l.count = newCount
	return nil
}
