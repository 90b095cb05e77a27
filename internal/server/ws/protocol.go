package ws

import (
	"encoding/json"
	"errors"

	deliverysvc "github.com/Jak-Sim/back-chat/internal/services/delivery"
)

// Inbound envelope types.
const (
	typeJoinRoom    = "join-room"
	typeLeaveRoom   = "leave-room"
	typeSendMessage = "send-message"
	typeSendImage   = "send-image"
)

// Outbound envelope types.
const (
	typeMessageEvent = "message-event"
	typeErrorEvent   = "error-event"
)

// envelope is the framing for every message in both directions.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type roomRef struct {
	RoomID string `json:"roomId"`
}

type sendMessageReq struct {
	RoomID string `json:"roomId"`
	Body   string `json:"body"`
}

type sendImageReq struct {
	RoomID   string `json:"roomId"`
	ImageRef string `json:"imageRef"`
}

type errorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in error-event envelopes.
const (
	codeBadRequest     = "bad-request"
	codeRoomNotFound   = "room-not-found"
	codeEmptyMessage   = "empty-message"
	codeUnknownSession = "unknown-session"
	codeInternal       = "internal"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, deliverysvc.ErrRoomNotFound):
		return codeRoomNotFound
	case errors.Is(err, deliverysvc.ErrEmptyMessage):
		return codeEmptyMessage
	case errors.Is(err, deliverysvc.ErrUnknownSession):
		return codeUnknownSession
	default:
		return codeInternal
	}
}

func marshalEnvelope(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typ, Data: raw})
}
