// Package deliverysvc implements back-chat's real-time delivery core: it
// turns durable room-log entries into live events on connected sessions.
//
// # Moving parts
//
//   - Session/membership table: maps connected sessions to the rooms they
//     have joined. Live member counts are recomputed from the table on every
//     join/leave/disconnect, never kept as drifting counters.
//   - Subscription registry: owns one pump goroutine per room that has at
//     least one live member. The per-room state machine
//     (unsubscribed → subscribing → active → unsubscribing → unsubscribed)
//     guarantees at most one pump per room even when joins race teardown.
//   - Pump: repeatedly performs bounded-wait grouped reads against the room
//     log, decodes entries, and hands them to the broadcaster in log order.
//     Store outages are retried with exponential backoff; exhausted retries
//     drop the room back to unsubscribed and the next join heals it.
//   - Broadcaster: fans one event out to every live member of a room and
//     replays history to a single joining session. Per-session delivery
//     failures are isolated.
//
// # Ordering and dedup
//
// Within one room, delivery preserves log order. A joining session first
// receives the full history via a direct range read; live events that arrive
// during the replay are buffered per session and flushed afterwards, filtered
// against the highest sequence already delivered. A connected session
// therefore sees every entry exactly once, in order, across the
// replay/live-stream boundary. No ordering holds across rooms.
//
// # Echo
//
// A sender's own session receives the log-sourced broadcast of its message by
// default (multi-device echo, config EchoSender). The client must tolerate
// seeing its message come back; local optimistic rendering is the UI's
// concern.
package deliverysvc
