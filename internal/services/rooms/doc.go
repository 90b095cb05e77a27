// Package roomsvc manages chat-room metadata: display name, kind,
// participant sets, and the last-message preview surfaced in room lists.
//
// Metadata lives in Pebble under roommeta/{roomID}, separate from the room's
// message log so list scans never touch entry data. Room deletion tears down
// metadata, the live log (entries, cursors), and archived history together.
package roomsvc
