// Package roomlog implements back-chat's per-room append-only message log.
//
// # Overview
//
// Each chat room owns one logical log persisted in Pebble. Keys are
// lexicographically ordered for efficient range scans:
//   - room/{roomID}/log/m            (log metadata: lastSeq, entry count)
//   - room/{roomID}/log/e/{seq_be8}  (entries)
//   - room/{roomID}/cursor/{group}   (durable consumer-group cursors)
//
// Entries are stored framed as: varint(8) | tsMs(8B BE) | payload | crc32c.
//
// API surface (internal)
//
//	l, _ := roomlog.Open(db, roomID, roomlog.Options{MaxEntries: 100})
//	seq, _ := l.Append(ctx, time.Now().UnixMilli(), payload)
//
//	// History replay: inclusive ascending range scan.
//	items, _ := l.ReadRange(1, 0) // toSeq 0 means "through latest"
//
//	// Grouped consumption: returns entries past the group cursor and
//	// advances the cursor; blocks up to wait when the log is drained.
//	items, _ = l.ReadGroup(ctx, group, consumerID, time.Second)
//
//	// Idempotent group creation; an existing cursor is never reset.
//	_ = l.EnsureGroup(group)
//
// # Retention and overflow
//
// Append enforces a most-recent-N bound. When the bound is exceeded the
// oldest entries are evicted in the same call; before deletion they are
// handed to the configured OverflowSink so a long-term store can archive
// them. Range reads already in flight observe a consistent iterator view and
// complete without error.
//
// Store-level failures surface wrapped in ErrUnavailable so callers can
// distinguish transient infrastructure trouble from logical conditions.
package roomlog
