package deliverysvc

import (
	"encoding/json"
	"fmt"

	"github.com/Jak-Sim/back-chat/internal/roomlog"
)

// Kind tags the event variant carried by a log entry.
type Kind string

// Event kinds.
const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindSystem Kind = "system"
)

func (k Kind) valid() bool {
	switch k {
	case KindText, KindImage, KindSystem:
		return true
	}
	return false
}

// Event is one decoded room message as delivered to sessions.
type Event struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId,omitempty"`
	Kind        Kind   `json:"kind"`
	Body        string `json:"body,omitempty"`
	ImageRef    string `json:"imageRef,omitempty"`
	CreatedAtMs int64  `json:"createdAt"`

	// Seq is the log sequence the event was decoded from.
	Seq uint64 `json:"-"`
	// Origin is the session that appended the entry, when known. Used for
	// echo suppression; never exposed on the wire.
	Origin string `json:"-"`
}

// entryPayload is the JSON body stored in the room log.
type entryPayload struct {
	SenderID string `json:"senderId,omitempty"`
	Kind     Kind   `json:"kind"`
	Body     string `json:"body,omitempty"`
	ImageRef string `json:"imageRef,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// EventID formats a log sequence as the opaque, sortable wire identifier.
func EventID(seq uint64) string { return fmt.Sprintf("%016x", seq) }

func encodePayload(p entryPayload) ([]byte, error) {
	if !p.Kind.valid() {
		return nil, fmt.Errorf("invalid event kind %q", p.Kind)
	}
	return json.Marshal(p)
}

// DecodeError reports one undecodable log entry. The pump skips the entry
// and keeps going; one corrupt record must not halt a room.
type DecodeError struct {
	RoomID string
	Seq    uint64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode entry %d in room %s: %v", e.Seq, e.RoomID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// decodeItem turns a raw log item into a typed Event. Kind is enforced here,
// at the decode boundary.
func decodeItem(roomID string, it roomlog.Item) (Event, error) {
	var p entryPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return Event{}, &DecodeError{RoomID: roomID, Seq: it.Seq, Err: err}
	}
	if !p.Kind.valid() {
		return Event{}, &DecodeError{RoomID: roomID, Seq: it.Seq, Err: fmt.Errorf("unknown kind %q", p.Kind)}
	}
	return Event{
		ID:          EventID(it.Seq),
		RoomID:      roomID,
		SenderID:    p.SenderID,
		Kind:        p.Kind,
		Body:        p.Body,
		ImageRef:    p.ImageRef,
		CreatedAtMs: it.TsMs,
		Seq:         it.Seq,
		Origin:      p.Origin,
	}, nil
}
