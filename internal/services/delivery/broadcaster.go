package deliverysvc

import (
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

// Broadcaster fans decoded events out to a room's live members and handles
// the replay-to-live handover for joining sessions.
type Broadcaster struct {
	members *memberTable
	logger  logpkg.Logger
	echo    bool
}

func newBroadcaster(members *memberTable, logger logpkg.Logger, echo bool) *Broadcaster {
	return &Broadcaster{members: members, logger: logger, echo: echo}
}

// PublishToRoom delivers ev to every current member of the room. Sessions
// mid-replay get the event parked in their pending buffer instead; sessions
// that already saw the sequence are skipped. A failing sink only loses its
// own copy.
func (b *Broadcaster) PublishToRoom(roomID string, ev Event) {
	b.members.mu.Lock()
	defer b.members.mu.Unlock()
	for _, s := range b.members.sessions {
		rs := s.rooms[roomID]
		if rs == nil {
			continue
		}
		if !b.echo && ev.Origin != "" && ev.Origin == s.id {
			continue
		}
		if rs.replaying {
			rs.pending = append(rs.pending, ev)
			continue
		}
		if ev.Seq <= rs.hwm {
			continue
		}
		rs.hwm = ev.Seq
		if err := s.sink.Deliver(ev); err != nil {
			b.logger.Warn("event delivery failed",
				logpkg.Str("room", roomID),
				logpkg.Str("session", s.id),
				logpkg.Uint64("seq", ev.Seq),
				logpkg.Err(err))
		}
	}
}

// finishReplay sends the room history to one joining session, then flushes
// live events buffered during the replay, filtered against the replay's
// high-water mark so nothing is delivered twice and nothing is lost.
func (b *Broadcaster) finishReplay(sessionID, roomID string, history []Event) {
	b.members.mu.Lock()
	defer b.members.mu.Unlock()
	s, ok := b.members.sessions[sessionID]
	if !ok {
		return
	}
	rs := s.rooms[roomID]
	if rs == nil {
		return
	}
	for _, ev := range history {
		if ev.Seq > rs.hwm {
			rs.hwm = ev.Seq
		}
		if err := s.sink.Deliver(ev); err != nil {
			b.logger.Warn("history delivery failed",
				logpkg.Str("room", roomID),
				logpkg.Str("session", s.id),
				logpkg.Uint64("seq", ev.Seq),
				logpkg.Err(err))
		}
	}
	pending := rs.pending
	rs.pending = nil
	rs.replaying = false
	for _, ev := range pending {
		if ev.Seq <= rs.hwm {
			continue
		}
		rs.hwm = ev.Seq
		if err := s.sink.Deliver(ev); err != nil {
			b.logger.Warn("event delivery failed",
				logpkg.Str("room", roomID),
				logpkg.Str("session", s.id),
				logpkg.Uint64("seq", ev.Seq),
				logpkg.Err(err))
		}
	}
}
