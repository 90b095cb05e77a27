// Package archive stores messages evicted from the live room logs.
//
// The live log keeps only the most-recent N entries per room; everything
// older lands here via the roomlog overflow hook, keyed so a room's archived
// history remains range-scannable in sequence order:
//
//	archive/{roomID}/{seq_be8}
package archive
