package roomlog

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - room/{roomID}/log/m
// - room/{roomID}/log/e/{seq_be8}
// - room/{roomID}/cursor/{group}

var (
	roomPrefix  = []byte("room/")
	logMetaSeg  = []byte("/log/m")
	logEntrySeg = []byte("/log/e/")
	cursorSeg   = []byte("/cursor/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyLogMeta builds the log metadata key for a room.
func KeyLogMeta(roomID string) []byte {
	k := make([]byte, 0, len(roomPrefix)+len(roomID)+len(logMetaSeg))
	k = append(k, roomPrefix...)
	k = append(k, roomID...)
	k = append(k, logMetaSeg...)
	return k
}

// KeyLogEntry builds the entry key with a big-endian sequence for ordering.
func KeyLogEntry(roomID string, seq uint64) []byte {
	k := make([]byte, 0, len(roomPrefix)+len(roomID)+len(logEntrySeg)+8)
	k = append(k, roomPrefix...)
	k = append(k, roomID...)
	k = append(k, logEntrySeg...)
	k = appendBE8(k, seq)
	return k
}

// KeyCursor builds the durable cursor key for a consumer group.
func KeyCursor(roomID, group string) []byte {
	k := make([]byte, 0, len(roomPrefix)+len(roomID)+len(cursorSeg)+len(group))
	k = append(k, roomPrefix...)
	k = append(k, roomID...)
	k = append(k, cursorSeg...)
	k = append(k, group...)
	return k
}

// KeyRoomPrefix returns the prefix covering every key a room owns. Used when
// a room is deleted to clear its log, metadata, and cursors in one sweep.
func KeyRoomPrefix(roomID string) []byte {
	k := make([]byte, 0, len(roomPrefix)+len(roomID)+1)
	k = append(k, roomPrefix...)
	k = append(k, roomID...)
	k = append(k, '/')
	return k
}

// GroupName derives the deterministic consumer-group name for a room, so a
// restarted pump resumes the same durable cursor.
func GroupName(roomID string) string { return "group:" + roomID }
