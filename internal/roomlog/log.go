package roomlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
)

// ErrUnavailable wraps failures of the underlying store. Callers treat it as
// transient and retry with backoff.
var ErrUnavailable = errors.New("room log unavailable")

// ErrNoGroup is returned by ReadGroup when the consumer group has not been
// created for this room yet.
var ErrNoGroup = errors.New("consumer group not found")

// ErrBadRoomID rejects room IDs that cannot be spliced into the keyspace.
// The '/' separator would let one room's key prefix contain another's, so a
// Destroy sweep of room "a" would also delete room "a/b".
var ErrBadRoomID = errors.New("invalid room id")

// ValidateRoomID reports whether a room ID is safe to use as a key segment.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: empty", ErrBadRoomID)
	}
	for i := 0; i < len(roomID); i++ {
		if roomID[i] == '/' {
			return fmt.Errorf("%w: %q contains '/'", ErrBadRoomID, roomID)
		}
	}
	return nil
}

// Item is one decoded log entry.
type Item struct {
	Seq     uint64
	TsMs    int64
	Payload []byte
}

// OverflowSink receives entries evicted by retention before they are deleted
// from the live log. Implementations archive them into long-term storage.
type OverflowSink interface {
	PersistOverflow(roomID string, entries []Item) error
}

type noopOverflow struct{}

func (noopOverflow) PersistOverflow(string, []Item) error { return nil }

// Options configures a room log.
type Options struct {
	// MaxEntries bounds retained entries to the most-recent N. Zero disables
	// retention.
	MaxEntries int
	// Overflow receives evicted entries. Nil means discard.
	Overflow OverflowSink
}

// Log provides append-only operations for one room.
type Log struct {
	db     *pebblestore.DB
	roomID string

	mu         sync.Mutex
	lastSeq    uint64
	count      uint64
	notifyCh   chan struct{}
	maxEntries int
	overflow   OverflowSink
}

// Open initializes a Log and loads sequence metadata if present.
func Open(db *pebblestore.DB, roomID string, opts Options) (*Log, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	sink := opts.Overflow
	if sink == nil {
		sink = noopOverflow{}
	}
	l := &Log{
		db:         db,
		roomID:     roomID,
		notifyCh:   make(chan struct{}),
		maxEntries: opts.MaxEntries,
		overflow:   sink,
	}
	meta, err := db.Get(KeyLogMeta(roomID))
	switch {
	case err == nil && len(meta) >= 16:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
		l.count = binary.BigEndian.Uint64(meta[8:16])
	case err == nil || errors.Is(err, pebblestore.ErrNotFound):
		// Lazily created on first append.
	default:
		return nil, fmt.Errorf("load log meta: %w: %w", ErrUnavailable, err)
	}
	return l, nil
}

// RoomID returns the room this log belongs to.
func (l *Log) RoomID() string { return l.roomID }

// Append assigns the next sequence, stores the entry, and enforces retention.
// Returns the assigned sequence.
func (l *Log) Append(ctx context.Context, tsMs int64, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	seq := l.lastSeq + 1
	if err := b.Set(KeyLogEntry(l.roomID, seq), EncodeEntry(tsMs, payload), nil); err != nil {
		return 0, fmt.Errorf("append entry: %w: %w", ErrUnavailable, err)
	}
	if err := b.Set(KeyLogMeta(l.roomID), encodeMeta(seq, l.count+1), nil); err != nil {
		return 0, fmt.Errorf("append meta: %w: %w", ErrUnavailable, err)
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("append commit: %w: %w", ErrUnavailable, err)
	}
	l.lastSeq = seq
	l.count++

	// Wake blocked group readers.
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})

	if l.maxEntries > 0 && l.count > uint64(l.maxEntries) {
		if err := l.trimLocked(ctx, l.count-uint64(l.maxEntries)); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

// LastSeq returns the highest assigned sequence (0 when the log is empty).
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Len returns the number of retained entries.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Destroy removes every key the room owns: entries, metadata, and cursors.
// The log must not be used afterwards.
func (l *Log) Destroy(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := KeyRoomPrefix(l.roomID)
	hi := append(append([]byte{}, prefix...), 0xFF)
	iter, err := l.db.NewIter(iterBounds(prefix, hi))
	if err != nil {
		return fmt.Errorf("destroy iter: %w: %w", ErrUnavailable, err)
	}
	b := l.db.NewBatch()
	defer b.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := b.Delete(iter.Key(), nil); err != nil {
			_ = iter.Close()
			return fmt.Errorf("destroy delete: %w: %w", ErrUnavailable, err)
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("destroy iter close: %w: %w", ErrUnavailable, err)
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("destroy commit: %w: %w", ErrUnavailable, err)
	}
	l.lastSeq = 0
	l.count = 0
	return nil
}

func encodeMeta(lastSeq, count uint64) []byte {
	var m [16]byte
	binary.BigEndian.PutUint64(m[:8], lastSeq)
	binary.BigEndian.PutUint64(m[8:16], count)
	return m[:]
}
