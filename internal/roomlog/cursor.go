package roomlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
)

// Default batch size for grouped reads.
const groupReadLimit = 128

// EnsureGroup creates the durable cursor for a consumer group if it does not
// exist, positioned at the start of the log. A fresh group therefore observes
// every retained entry; consumers that already saw part of the log filter by
// sequence on their side. Starting at the beginning closes the window where
// an entry appended between a reader's snapshot and the group's creation
// would be seen by neither. Idempotent: a pre-existing cursor is left
// untouched and is not an error.
func (l *Log) EnsureGroup(group string) error {
	key := KeyCursor(l.roomID, group)
	_, err := l.db.Get(key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pebblestore.ErrNotFound):
		// fall through to create
	default:
		return fmt.Errorf("ensure group: %w: %w", ErrUnavailable, err)
	}

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], 0)
	if err := l.db.Set(key, b[:]); err != nil {
		return fmt.Errorf("ensure group: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// GetCursor loads the committed cursor position for a group.
func (l *Log) GetCursor(group string) (uint64, bool, error) {
	cur, err := l.db.Get(KeyCursor(l.roomID, group))
	switch {
	case err == nil && len(cur) >= 8:
		return binary.BigEndian.Uint64(cur[:8]), true, nil
	case err == nil || errors.Is(err, pebblestore.ErrNotFound):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("get cursor: %w: %w", ErrUnavailable, err)
	}
}

// CommitCursor advances the group cursor. Commits at or below the stored
// position are ignored so the cursor never regresses.
func (l *Log) CommitCursor(group string, seq uint64) error {
	pos, ok, err := l.GetCursor(group)
	if err != nil {
		return err
	}
	if ok && seq <= pos {
		return nil
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	if err := l.db.Set(KeyCursor(l.roomID, group), b[:]); err != nil {
		return fmt.Errorf("commit cursor: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// ReadGroup returns entries the group has not yet consumed, in ascending
// order, advancing the durable cursor past everything returned (the read
// doubles as the acknowledgement). When the log is drained it blocks up to
// wait for a new append and returns an empty slice on timeout so callers can
// re-poll. consumerID only identifies the reading pump instance in logs and
// errors; the cursor itself is shared group state.
func (l *Log) ReadGroup(ctx context.Context, group, consumerID string, wait time.Duration) ([]Item, error) {
	pos, ok, err := l.GetCursor(group)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("room %s consumer %s: %w", l.roomID, consumerID, ErrNoGroup)
	}

	items, err := l.readAfter(pos, groupReadLimit)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if !l.waitForAppend(ctx, wait) {
			return nil, ctx.Err()
		}
		items, err = l.readAfter(pos, groupReadLimit)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, nil
		}
	}
	if err := l.CommitCursor(group, items[len(items)-1].Seq); err != nil {
		return nil, err
	}
	return items, nil
}
