// Package ws is the WebSocket and HTTP edge of back-chat.
//
// Each WebSocket connection becomes one delivery session. The client sends
// JSON envelopes (join-room, leave-room, send-message, send-image) and
// receives message-event envelopes fanned out by the delivery service, plus
// error-event envelopes for rejected requests. Room metadata CRUD is exposed
// as a small JSON REST surface alongside the socket endpoint.
package ws
