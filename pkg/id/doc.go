// Package id generates compact, time-ordered identifiers.
//
// IDs are 128-bit values encoded big-endian as [8 bytes unix-ms][8 bytes
// sequence], so their byte and hex representations sort in generation order.
// back-chat uses them for pump consumer names, where a fresh, unique,
// roughly time-ordered token is wanted per subscription instance.
package id
