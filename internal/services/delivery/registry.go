package deliverysvc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Jak-Sim/back-chat/internal/roomlog"
	"github.com/Jak-Sim/back-chat/pkg/id"
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

// subState is the lifecycle of one room's subscription. A room absent from
// the registry map is unsubscribed.
type subState int

const (
	stateSubscribing subState = iota + 1
	stateActive
	stateUnsubscribing
)

// groupLog is the slice of the room log the pump depends on. Narrowed to an
// interface so failure modes can be injected in tests.
type groupLog interface {
	EnsureGroup(group string) error
	ReadGroup(ctx context.Context, group, consumerID string, wait time.Duration) ([]roomlog.Item, error)
}

type subscription struct {
	state      subState
	consumerID string
	cancel     context.CancelFunc
	// done is closed when the pump goroutine has fully exited and the room
	// is unsubscribed again.
	done chan struct{}
}

// registryOptions wires the registry's collaborators as narrow functions.
type registryOptions struct {
	openLog func(roomID string) (groupLog, error)
	publish func(roomID string, ev Event)
	live    func(roomID string) int
	// roomExists distinguishes a vanished cursor on a live room (recreate)
	// from one on a deleted room (stop). Optional; nil means always recreate.
	roomExists func(roomID string) bool
	logger     logpkg.Logger
	pollWait   time.Duration
	policy     RetryPolicy
}

// Registry owns per-room subscriptions and enforces the single-pump
// invariant: at any moment a room has at most one pump goroutine, regardless
// of how joins and leaves interleave.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*subscription

	openLog    func(roomID string) (groupLog, error)
	publish    func(roomID string, ev Event)
	live       func(roomID string) int
	roomExists func(roomID string) bool
	logger     logpkg.Logger
	pollWait   time.Duration
	policy     RetryPolicy
	ids        *id.Generator

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func newRegistry(opts registryOptions) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		subs:       make(map[string]*subscription),
		openLog:    opts.openLog,
		publish:    opts.publish,
		live:       opts.live,
		roomExists: opts.roomExists,
		logger:     opts.logger,
		pollWait:   opts.pollWait,
		policy:     opts.policy,
		ids:        id.NewGenerator(),
		baseCtx:    ctx,
		stop:       cancel,
	}
}

// EnsureSubscribed guarantees a pump is running (or starting) for the room.
// Idempotent. If a teardown is in flight the call coalesces with it: once
// the old pump has exited, the subscription is recreated provided the room
// still has live members.
func (r *Registry) EnsureSubscribed(roomID string) {
	r.mu.Lock()
	if sub, ok := r.subs[roomID]; ok {
		if sub.state == stateSubscribing || sub.state == stateActive {
			r.mu.Unlock()
			return
		}
		done := sub.done
		r.mu.Unlock()
		go func() {
			<-done
			if r.live(roomID) > 0 {
				r.EnsureSubscribed(roomID)
			}
		}()
		return
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	sub := &subscription{
		state:      stateSubscribing,
		consumerID: "pump-" + r.ids.Next().String(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	r.subs[roomID] = sub
	r.wg.Add(1)
	go r.pump(ctx, roomID, sub)
	r.mu.Unlock()
}

// ReleaseIfIdle tears the room's subscription down when no live members
// remain. The member count is recomputed at decision time, so a join racing
// a leave keeps the pump alive.
func (r *Registry) ReleaseIfIdle(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[roomID]
	if !ok || sub.state == stateUnsubscribing {
		return
	}
	if r.live(roomID) > 0 {
		return
	}
	sub.state = stateUnsubscribing
	sub.cancel()
}

// ForceUnsubscribe tears the room's subscription down regardless of live
// members and waits for the pump to exit, so the caller can destroy the
// room's keyspace without a racing cursor write. No-op for an unsubscribed
// room.
func (r *Registry) ForceUnsubscribe(ctx context.Context, roomID string) error {
	r.mu.Lock()
	sub, ok := r.subs[roomID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if sub.state != stateUnsubscribing {
		sub.state = stateUnsubscribing
		sub.cancel()
	}
	done := sub.done
	r.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every pump and waits for them to exit or for ctx to
// expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, sub := range r.subs {
		sub.state = stateUnsubscribing
		sub.cancel()
	}
	r.mu.Unlock()
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// roomState reports the room's current subscription state; zero means
// unsubscribed. Used by tests.
func (r *Registry) roomState(roomID string) subState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[roomID]; ok {
		return sub.state
	}
	return 0
}

// pump is the single consumer loop for one room. It creates the room's
// consumer group, then drains grouped reads and publishes decoded events in
// log order until canceled or until retries against an unavailable store are
// exhausted.
func (r *Registry) pump(ctx context.Context, roomID string, sub *subscription) {
	defer func() {
		r.mu.Lock()
		if r.subs[roomID] == sub {
			delete(r.subs, roomID)
		}
		r.mu.Unlock()
		close(sub.done)
		r.wg.Done()
	}()

	plog := r.logger.With(logpkg.Str("room", roomID), logpkg.Str("consumer", sub.consumerID))

	l, err := r.openLog(roomID)
	if err != nil {
		plog.Error("open room log", logpkg.Err(err))
		return
	}
	group := roomlog.GroupName(roomID)
	if !r.ensureGroup(ctx, l, group, plog) {
		return
	}

	r.mu.Lock()
	if sub.state == stateSubscribing {
		sub.state = stateActive
	}
	r.mu.Unlock()
	plog.Debug("room pump active")

	attempts := 0
	for ctx.Err() == nil {
		items, err := l.ReadGroup(ctx, group, sub.consumerID, r.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, roomlog.ErrNoGroup) {
				// Cursor vanished underneath us. If the room itself is gone
				// this pump is done; recreating the cursor would resurrect
				// keys in a destroyed keyspace.
				if r.roomExists != nil && !r.roomExists(roomID) {
					plog.Info("room deleted, stopping pump")
					return
				}
				plog.Warn("group cursor missing, recreating", logpkg.Err(err))
				if !r.ensureGroup(ctx, l, group, plog) {
					return
				}
				continue
			}
			attempts++
			if attempts >= r.policy.MaxAttempts {
				plog.Error("room pump abandoned, store unavailable",
					logpkg.Int("attempts", attempts), logpkg.Err(err))
				return
			}
			plog.Warn("grouped read failed, backing off",
				logpkg.Int("attempt", attempts), logpkg.Err(err))
			if !sleep(ctx, r.policy.Delay(attempts)) {
				return
			}
			continue
		}
		attempts = 0
		for _, it := range items {
			ev, derr := decodeItem(roomID, it)
			if derr != nil {
				plog.Warn("skipping undecodable entry",
					logpkg.Uint64("seq", it.Seq), logpkg.Err(derr))
				continue
			}
			r.publish(roomID, ev)
		}
	}
}

func (r *Registry) ensureGroup(ctx context.Context, l groupLog, group string, plog logpkg.Logger) bool {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := l.EnsureGroup(group)
		if err == nil {
			return true
		}
		if attempt >= r.policy.MaxAttempts {
			plog.Error("ensure consumer group", logpkg.Int("attempts", attempt), logpkg.Err(err))
			return false
		}
		plog.Warn("ensure consumer group failed, backing off",
			logpkg.Int("attempt", attempt), logpkg.Err(err))
		if !sleep(ctx, r.policy.Delay(attempt)) {
			return false
		}
	}
}
