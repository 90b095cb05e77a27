package roomsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jak-Sim/back-chat/internal/roomlog"
	"github.com/Jak-Sim/back-chat/internal/runtime"
	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

// Kind classifies a room.
type Kind string

// Room kinds.
const (
	KindGroup     Kind = "group"
	KindChallenge Kind = "challenge"
)

// ErrNotFound is returned for unknown rooms.
var ErrNotFound = errors.New("room not found")

// Meta holds a room's metadata record.
type Meta struct {
	RoomID             string   `json:"roomId"`
	DisplayName        string   `json:"displayName"`
	Kind               Kind     `json:"kind"`
	ParticipantIDs     []string `json:"participantIds"`
	CreatedAtMs        int64    `json:"createdAtMs"`
	LastMessagePreview string   `json:"lastMessagePreview,omitempty"`
	LastMessageAtMs    int64    `json:"lastMessageAtMs,omitempty"`
}

// HistoryDropper removes a room's archived history on deletion.
type HistoryDropper interface {
	Drop(ctx context.Context, roomID string) error
}

// SystemNotifier appends a system message to a room's log. Optional; used for
// membership notices.
type SystemNotifier interface {
	SendSystem(ctx context.Context, roomID, body string) error
}

// LiveTeardown removes a room's live delivery state (memberships and the
// pump) before its keyspace is destroyed. Optional.
type LiveTeardown interface {
	DropRoom(ctx context.Context, roomID string) error
}

// Service provides room metadata CRUD on top of the runtime's store.
type Service struct {
	rt       *runtime.Runtime
	logger   logpkg.Logger
	archive  HistoryDropper
	notifier SystemNotifier
	teardown LiveTeardown

	// mu serializes meta read-modify-write cycles so concurrent creates
	// cannot both pass the duplicate check and concurrent appends cannot
	// lose a preview update.
	mu sync.Mutex
}

// New returns a Service. archive and notifier may be nil.
func New(rt *runtime.Runtime, logger logpkg.Logger, archive HistoryDropper, notifier SystemNotifier) *Service {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Service{rt: rt, logger: logger.With(logpkg.Component("rooms")), archive: archive, notifier: notifier}
}

// SetNotifier installs the system notifier after construction. Breaks the
// construction cycle with the delivery service, which needs rooms first.
func (s *Service) SetNotifier(n SystemNotifier) { s.notifier = n }

// SetLiveTeardown installs the delivery-side teardown hook. Same construction
// cycle as SetNotifier.
func (s *Service) SetLiveTeardown(d LiveTeardown) { s.teardown = d }

// CreateOptions configures room creation.
type CreateOptions struct {
	// RoomID is optional; a UUID is generated when empty.
	RoomID       string
	DisplayName  string
	Kind         Kind
	Participants []string
}

// Create persists a new room's metadata. The message log itself is created
// lazily on first append.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (Meta, error) {
	if opts.Kind == "" {
		opts.Kind = KindGroup
	}
	if opts.Kind != KindGroup && opts.Kind != KindChallenge {
		return Meta{}, fmt.Errorf("invalid room kind %q", opts.Kind)
	}
	roomID := opts.RoomID
	if roomID == "" {
		roomID = uuid.NewString()
	}
	if err := roomlog.ValidateRoomID(roomID); err != nil {
		return Meta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Get(ctx, roomID); err == nil {
		return Meta{}, fmt.Errorf("room %s already exists", roomID)
	} else if !errors.Is(err, ErrNotFound) {
		return Meta{}, err
	}

	m := Meta{
		RoomID:         roomID,
		DisplayName:    opts.DisplayName,
		Kind:           opts.Kind,
		ParticipantIDs: dedupe(opts.Participants),
		CreatedAtMs:    time.Now().UnixMilli(),
	}
	if err := s.write(m); err != nil {
		return Meta{}, err
	}
	s.logger.Info("room created",
		logpkg.Str("room", roomID),
		logpkg.Str("kind", string(m.Kind)),
		logpkg.Int("participants", len(m.ParticipantIDs)),
	)
	return m, nil
}

// Get loads a room's metadata.
func (s *Service) Get(ctx context.Context, roomID string) (Meta, error) {
	b, err := s.rt.DB().Get(metaKey(roomID))
	switch {
	case err == nil:
		var m Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return Meta{}, fmt.Errorf("decode room meta %s: %w", roomID, err)
		}
		return m, nil
	case errors.Is(err, pebblestore.ErrNotFound):
		return Meta{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	default:
		return Meta{}, fmt.Errorf("load room meta %s: %w", roomID, err)
	}
}

// Participants returns the room's participant user IDs.
func (s *Service) Participants(ctx context.Context, roomID string) ([]string, error) {
	m, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return m.ParticipantIDs, nil
}

// AddParticipants merges user IDs into the room's participant set and posts a
// system notice for each newcomer.
func (s *Service) AddParticipants(ctx context.Context, roomID string, userIDs []string) (Meta, error) {
	s.mu.Lock()
	m, err := s.Get(ctx, roomID)
	if err != nil {
		s.mu.Unlock()
		return Meta{}, err
	}
	var added []string
	for _, u := range userIDs {
		if u == "" || slices.Contains(m.ParticipantIDs, u) {
			continue
		}
		m.ParticipantIDs = append(m.ParticipantIDs, u)
		added = append(added, u)
	}
	if len(added) == 0 {
		s.mu.Unlock()
		return m, nil
	}
	if err := s.write(m); err != nil {
		s.mu.Unlock()
		return Meta{}, err
	}
	// Notify outside the lock: the system append flows back into
	// TouchLastMessage, which takes it again.
	s.mu.Unlock()
	if s.notifier != nil {
		for _, u := range added {
			if err := s.notifier.SendSystem(ctx, roomID, u+" joined the room"); err != nil {
				s.logger.Warn("system notice failed", logpkg.Str("room", roomID), logpkg.Err(err))
			}
		}
	}
	return m, nil
}

// TouchLastMessage updates the room-list preview after an append.
func (s *Service) TouchLastMessage(ctx context.Context, roomID, preview string, tsMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.Get(ctx, roomID)
	if err != nil {
		return err
	}
	m.LastMessagePreview = preview
	m.LastMessageAtMs = tsMs
	return s.write(m)
}

// Delete removes the room's metadata, live delivery state, live log (entries
// and cursors), and archived history. Metadata goes first so new joins and
// appends start failing, then memberships and the pump are torn down before
// the keyspace is swept; otherwise a still-running pump could write a cursor
// back into the destroyed keyspace.
func (s *Service) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if _, err := s.Get(ctx, roomID); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.rt.DB().Delete(metaKey(roomID)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("delete room meta %s: %w", roomID, err)
	}
	s.mu.Unlock()
	if s.teardown != nil {
		if err := s.teardown.DropRoom(ctx, roomID); err != nil {
			return fmt.Errorf("drop room delivery %s: %w", roomID, err)
		}
	}
	if err := s.rt.DropRoomLog(ctx, roomID); err != nil {
		return fmt.Errorf("drop room log %s: %w", roomID, err)
	}
	if s.archive != nil {
		if err := s.archive.Drop(ctx, roomID); err != nil {
			return fmt.Errorf("drop room archive %s: %w", roomID, err)
		}
	}
	s.logger.Info("room deleted", logpkg.Str("room", roomID))
	return nil
}

// ListForUser returns metadata for every room the user participates in.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Meta, error) {
	all, err := s.list()
	if err != nil {
		return nil, err
	}
	var out []Meta
	for _, m := range all {
		if slices.Contains(m.ParticipantIDs, userID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) write(m Meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode room meta: %w", err)
	}
	if err := s.rt.DB().Set(metaKey(m.RoomID), b); err != nil {
		return fmt.Errorf("store room meta %s: %w", m.RoomID, err)
	}
	return nil
}

func dedupe(in []string) []string {
	var out []string
	for _, v := range in {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
