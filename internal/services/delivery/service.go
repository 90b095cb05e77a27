package deliverysvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jak-Sim/back-chat/internal/runtime"
	roomsvc "github.com/Jak-Sim/back-chat/internal/services/rooms"
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

// Errors surfaced to transports.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrEmptyMessage = errors.New("empty message")
)

const previewLimit = 64

// Service is the delivery facade used by the transport layer: session
// lifecycle, room membership, and the send paths that append to the durable
// room log. Fan-out back to sessions happens asynchronously through the
// per-room pumps.
type Service struct {
	rt       *runtime.Runtime
	rooms    *roomsvc.Service
	logger   logpkg.Logger
	members  *memberTable
	bcast    *Broadcaster
	registry *Registry
}

// New builds the delivery service on top of the runtime's room logs and the
// rooms metadata service.
func New(rt *runtime.Runtime, rooms *roomsvc.Service, logger logpkg.Logger) *Service {
	cfg := rt.Config()
	members := newMemberTable()
	bcast := newBroadcaster(members, logger.With(logpkg.Component("broadcaster")), cfg.EchoSender)
	reg := newRegistry(registryOptions{
		openLog: func(roomID string) (groupLog, error) {
			return rt.RoomLog(roomID)
		},
		publish: bcast.PublishToRoom,
		live:    members.LiveCount,
		roomExists: func(roomID string) bool {
			_, err := rooms.Get(context.Background(), roomID)
			return err == nil
		},
		logger:   logger.With(logpkg.Component("registry")),
		pollWait: time.Duration(cfg.PollWaitMs) * time.Millisecond,
		policy:   policyFromConfig(cfg.Backoff),
	})
	return &Service{
		rt:       rt,
		rooms:    rooms,
		logger:   logger,
		members:  members,
		bcast:    bcast,
		registry: reg,
	}
}

// Connect registers a transport and returns its session.
func (s *Service) Connect(userID string, sink Sink) *Session {
	sess := s.members.connect(userID, sink)
	s.logger.Debug("session connected",
		logpkg.Str("session", sess.id), logpkg.Str("user", userID))
	return sess
}

// Disconnect drops the session and all its memberships, releasing any room
// subscriptions left without live members.
func (s *Service) Disconnect(sessionID string) {
	rooms := s.members.disconnect(sessionID)
	for _, roomID := range rooms {
		s.registry.ReleaseIfIdle(roomID)
	}
	s.logger.Debug("session disconnected", logpkg.Str("session", sessionID))
}

// Join makes the session a member of the room, ensures the room's pump is
// running, and replays the retained history to the joining session. Joining
// a room the session is already in is a no-op.
func (s *Service) Join(ctx context.Context, sessionID, roomID string) error {
	if _, err := s.rooms.Get(ctx, roomID); err != nil {
		if errors.Is(err, roomsvc.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
		return err
	}
	joined, err := s.members.join(sessionID, roomID)
	if err != nil {
		return err
	}
	if !joined {
		return nil
	}
	s.registry.EnsureSubscribed(roomID)

	history, err := s.readHistory(roomID)
	if err != nil {
		// Roll the membership back so the session is not left half-joined
		// with replay pending forever.
		_ = s.members.leave(sessionID, roomID)
		s.registry.ReleaseIfIdle(roomID)
		return fmt.Errorf("replay room %s: %w", roomID, err)
	}
	s.bcast.finishReplay(sessionID, roomID, history)
	return nil
}

// Leave removes the membership and releases the room's subscription when the
// last live member is gone.
func (s *Service) Leave(sessionID, roomID string) error {
	if err := s.members.leave(sessionID, roomID); err != nil {
		return err
	}
	s.registry.ReleaseIfIdle(roomID)
	return nil
}

// SendMessage appends a text message to the room's log. Delivery to members,
// including the sender's own session, happens via the room pump.
func (s *Service) SendMessage(ctx context.Context, sessionID, roomID, body string) (Event, error) {
	if strings.TrimSpace(body) == "" {
		return Event{}, ErrEmptyMessage
	}
	sess, ok := s.members.get(sessionID)
	if !ok {
		return Event{}, ErrUnknownSession
	}
	return s.append(ctx, roomID, entryPayload{
		SenderID: sess.userID,
		Kind:     KindText,
		Body:     body,
		Origin:   sessionID,
	})
}

// SendImage appends an image reference (an URL or object key produced by the
// upload pipeline) to the room's log.
func (s *Service) SendImage(ctx context.Context, sessionID, roomID, imageRef string) (Event, error) {
	if strings.TrimSpace(imageRef) == "" {
		return Event{}, ErrEmptyMessage
	}
	sess, ok := s.members.get(sessionID)
	if !ok {
		return Event{}, ErrUnknownSession
	}
	return s.append(ctx, roomID, entryPayload{
		SenderID: sess.userID,
		Kind:     KindImage,
		ImageRef: imageRef,
		Origin:   sessionID,
	})
}

// SendSystem appends a server-generated notice to the room's log. Satisfies
// the rooms service's notifier seam.
func (s *Service) SendSystem(ctx context.Context, roomID, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	_, err := s.append(ctx, roomID, entryPayload{Kind: KindSystem, Body: body})
	return err
}

// DropRoom removes a deleted room's live state: every session's membership
// and the room's pump. Blocks until the pump has exited so the caller can
// destroy the room's keyspace safely. Satisfies the rooms service's teardown
// seam.
func (s *Service) DropRoom(ctx context.Context, roomID string) error {
	s.members.dropRoom(roomID)
	return s.registry.ForceUnsubscribe(ctx, roomID)
}

// Shutdown stops all room pumps.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.registry.Shutdown(ctx)
}

// readHistory loads the room's retained entries for replay, skipping any
// that fail to decode.
func (s *Service) readHistory(roomID string) ([]Event, error) {
	l, err := s.rt.RoomLog(roomID)
	if err != nil {
		return nil, err
	}
	items, err := l.ReadRange(1, 0)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(items))
	for _, it := range items {
		ev, derr := decodeItem(roomID, it)
		if derr != nil {
			s.logger.Warn("skipping undecodable history entry",
				logpkg.Str("room", roomID), logpkg.Uint64("seq", it.Seq), logpkg.Err(derr))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Service) append(ctx context.Context, roomID string, p entryPayload) (Event, error) {
	if _, err := s.rooms.Get(ctx, roomID); err != nil {
		if errors.Is(err, roomsvc.ErrNotFound) {
			return Event{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
		return Event{}, err
	}
	payload, err := encodePayload(p)
	if err != nil {
		return Event{}, err
	}
	l, err := s.rt.RoomLog(roomID)
	if err != nil {
		return Event{}, err
	}
	tsMs := time.Now().UnixMilli()
	seq, err := l.Append(ctx, tsMs, payload)
	if err != nil {
		if seq == 0 {
			return Event{}, fmt.Errorf("append room %s: %w", roomID, err)
		}
		// The entry is durable; only retention eviction failed. Overflow is
		// retried on the next append, so the send itself succeeded.
		s.logger.Warn("retention trim failed after append",
			logpkg.Str("room", roomID), logpkg.Uint64("seq", seq), logpkg.Err(err))
	}
	if terr := s.rooms.TouchLastMessage(ctx, roomID, preview(p), tsMs); terr != nil {
		s.logger.Warn("update room preview",
			logpkg.Str("room", roomID), logpkg.Err(terr))
	}
	return Event{
		ID:          EventID(seq),
		RoomID:      roomID,
		SenderID:    p.SenderID,
		Kind:        p.Kind,
		Body:        p.Body,
		ImageRef:    p.ImageRef,
		CreatedAtMs: tsMs,
		Seq:         seq,
		Origin:      p.Origin,
	}, nil
}

func preview(p entryPayload) string {
	if p.Kind == KindImage {
		return "[image]"
	}
	r := []rune(p.Body)
	if len(r) > previewLimit {
		return string(r[:previewLimit])
	}
	return p.Body
}
