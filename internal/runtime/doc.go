// Package runtime wires storage and configuration for a single back-chat
// node and hands out shared per-room log instances.
package runtime
