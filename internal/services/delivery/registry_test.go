package deliverysvc

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jak-Sim/back-chat/internal/roomlog"
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

// gaugeLog is a groupLog stub that tracks how many grouped reads are in
// flight at once. Only pumps issue grouped reads, and a single pump reads
// sequentially, so an overlap proves two pumps ran for the same room.
type gaugeLog struct {
	inFlight    atomic.Int32
	maxSeen     atomic.Int32
	ensureCalls atomic.Int32

	mu        sync.Mutex
	queue     []roomlog.Item
	ensureErr error
	readErr   error
	// cancelLag delays the return after cancellation to widen the
	// unsubscribing window.
	cancelLag time.Duration
}

func (l *gaugeLog) EnsureGroup(group string) error {
	l.ensureCalls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureErr
}

func (l *gaugeLog) setReadErr(err error) {
	l.mu.Lock()
	l.readErr = err
	l.mu.Unlock()
}

func (l *gaugeLog) push(items ...roomlog.Item) {
	l.mu.Lock()
	l.queue = append(l.queue, items...)
	l.mu.Unlock()
}

func (l *gaugeLog) ReadGroup(ctx context.Context, group, consumerID string, wait time.Duration) ([]roomlog.Item, error) {
	n := l.inFlight.Add(1)
	for {
		m := l.maxSeen.Load()
		if n <= m || l.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	defer l.inFlight.Add(-1)

	l.mu.Lock()
	err := l.readErr
	out := l.queue
	l.queue = nil
	lag := l.cancelLag
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}
	select {
	case <-ctx.Done():
		if lag > 0 {
			time.Sleep(lag)
		}
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

type publishRecorder struct {
	mu  sync.Mutex
	evs []Event
}

func (p *publishRecorder) publish(roomID string, ev Event) {
	p.mu.Lock()
	p.evs = append(p.evs, ev)
	p.mu.Unlock()
}

func (p *publishRecorder) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.evs...)
}

func testPolicy() RetryPolicy {
	return RetryPolicy{Base: time.Millisecond, Cap: 4 * time.Millisecond, Factor: 2, MaxAttempts: 3}
}

func newTestRegistry(t *testing.T, lg *gaugeLog, live *atomic.Int32, publish func(string, Event)) *Registry {
	t.Helper()
	if publish == nil {
		publish = func(string, Event) {}
	}
	r := newRegistry(registryOptions{
		openLog: func(string) (groupLog, error) { return lg, nil },
		publish: publish,
		live: func(string) int {
			if n := live.Load(); n > 0 {
				return int(n)
			}
			return 0
		},
		logger:   logpkg.NewNop(),
		pollWait: 5 * time.Millisecond,
		policy:   testPolicy(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func testItem(t *testing.T, seq uint64, body string) roomlog.Item {
	t.Helper()
	payload, err := encodePayload(entryPayload{SenderID: "u1", Kind: KindText, Body: body})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return roomlog.Item{Seq: seq, TsMs: int64(seq), Payload: payload}
}

func TestPumpPublishesInOrderSkippingBadEntries(t *testing.T) {
	lg := &gaugeLog{}
	var live atomic.Int32
	live.Store(1)
	rec := &publishRecorder{}
	r := newTestRegistry(t, lg, &live, rec.publish)

	items := []roomlog.Item{
		testItem(t, 1, "a"),
		testItem(t, 2, "b"),
		{Seq: 3, TsMs: 3, Payload: []byte("not json")},
		testItem(t, 4, "c"),
	}
	lg.push(items...)
	r.EnsureSubscribed("r1")

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 3 }, "pump output")
	got := rec.snapshot()
	wantSeqs := []uint64{1, 2, 4}
	for i, ev := range got {
		if ev.Seq != wantSeqs[i] {
			t.Fatalf("out of order delivery: got %+v", got)
		}
		if ev.RoomID != "r1" || ev.Kind != KindText {
			t.Fatalf("bad event: %+v", ev)
		}
	}
	if got[0].ID != EventID(1) {
		t.Fatalf("event id mismatch: %q", got[0].ID)
	}
}

func TestPumpAbandonsAfterRetriesAndRecoversOnNextJoin(t *testing.T) {
	lg := &gaugeLog{}
	var live atomic.Int32
	live.Store(1)
	r := newTestRegistry(t, lg, &live, nil)

	lg.setReadErr(fmt.Errorf("%w: disk gone", roomlog.ErrUnavailable))
	r.EnsureSubscribed("r1")

	// Retries exhaust and the room drops back to unsubscribed even though a
	// member is still live.
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == 0 }, "pump abandonment")

	// The next join heals the subscription once the store is back.
	lg.setReadErr(nil)
	r.EnsureSubscribed("r1")
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == stateActive }, "pump recovery")
}

func TestEnsureSubscribedCoalescesWithTeardown(t *testing.T) {
	lg := &gaugeLog{cancelLag: 20 * time.Millisecond}
	var live atomic.Int32
	r := newTestRegistry(t, lg, &live, nil)

	live.Store(1)
	r.EnsureSubscribed("r1")
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == stateActive }, "initial pump")

	// Last member leaves, then a join races the teardown.
	live.Store(0)
	r.ReleaseIfIdle("r1")
	live.Store(1)
	r.EnsureSubscribed("r1")

	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == stateActive }, "resubscribe after teardown")
	if max := lg.maxSeen.Load(); max > 1 {
		t.Fatalf("two pumps overlapped: max in-flight reads %d", max)
	}
}

func TestSinglePumpUnderMembershipChurn(t *testing.T) {
	lg := &gaugeLog{}
	var live atomic.Int32
	r := newTestRegistry(t, lg, &live, nil)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 150; i++ {
				if rnd.Intn(2) == 0 {
					live.Add(1)
					r.EnsureSubscribed("r1")
				} else {
					if live.Load() > 0 {
						live.Add(-1)
					}
					r.ReleaseIfIdle("r1")
				}
				time.Sleep(time.Duration(rnd.Intn(300)) * time.Microsecond)
			}
		}(int64(w + 1))
	}
	wg.Wait()

	// Settle into a defined final state and verify the invariant held.
	live.Store(1)
	r.EnsureSubscribed("r1")
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == stateActive }, "settled pump")
	if max := lg.maxSeen.Load(); max > 1 {
		t.Fatalf("single-pump invariant violated: max in-flight reads %d", max)
	}

	live.Store(0)
	r.ReleaseIfIdle("r1")
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == 0 }, "final teardown")
}

func newExistenceRegistry(t *testing.T, lg *gaugeLog, exists func(string) bool) *Registry {
	t.Helper()
	r := newRegistry(registryOptions{
		openLog:    func(string) (groupLog, error) { return lg, nil },
		publish:    func(string, Event) {},
		live:       func(string) int { return 1 },
		roomExists: exists,
		logger:     logpkg.NewNop(),
		pollWait:   5 * time.Millisecond,
		policy:     testPolicy(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func TestPumpStopsWhenRoomDeleted(t *testing.T) {
	lg := &gaugeLog{}
	r := newExistenceRegistry(t, lg, func(string) bool { return false })

	r.EnsureSubscribed("r1")
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == stateActive }, "pump start")

	// The cursor vanishing on a deleted room is terminal: the pump must exit
	// without recreating the group, or it would write keys back into a
	// destroyed keyspace.
	lg.setReadErr(fmt.Errorf("room r1: %w", roomlog.ErrNoGroup))
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == 0 }, "pump exit")
	if n := lg.ensureCalls.Load(); n != 1 {
		t.Fatalf("deleted room's cursor recreated: %d ensure calls", n)
	}
}

func TestPumpRecreatesCursorWhenRoomAlive(t *testing.T) {
	lg := &gaugeLog{}
	rec := &publishRecorder{}
	r := newRegistry(registryOptions{
		openLog:    func(string) (groupLog, error) { return lg, nil },
		publish:    rec.publish,
		live:       func(string) int { return 1 },
		roomExists: func(string) bool { return true },
		logger:     logpkg.NewNop(),
		pollWait:   5 * time.Millisecond,
		policy:     testPolicy(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})

	r.EnsureSubscribed("r1")
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == stateActive }, "pump start")

	lg.setReadErr(fmt.Errorf("room r1: %w", roomlog.ErrNoGroup))
	waitFor(t, 2*time.Second, func() bool { return lg.ensureCalls.Load() >= 2 }, "cursor recreation")

	lg.setReadErr(nil)
	lg.push(testItem(t, 1, "after"))
	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 }, "resumed delivery")
}

func TestForceUnsubscribeStopsPumpWithLiveMembers(t *testing.T) {
	lg := &gaugeLog{}
	var live atomic.Int32
	live.Store(2)
	r := newTestRegistry(t, lg, &live, nil)

	r.EnsureSubscribed("r1")
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == stateActive }, "pump start")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.ForceUnsubscribe(ctx, "r1"); err != nil {
		t.Fatalf("force unsubscribe: %v", err)
	}
	// Returns only after the pump has fully exited.
	if st := r.roomState("r1"); st != 0 {
		t.Fatalf("subscription survived forced teardown: state %d", st)
	}
	// Idempotent on an unsubscribed room.
	if err := r.ForceUnsubscribe(ctx, "r1"); err != nil {
		t.Fatalf("force unsubscribe again: %v", err)
	}
}

func TestReleaseIfIdleKeepsPumpWithLiveMembers(t *testing.T) {
	lg := &gaugeLog{}
	var live atomic.Int32
	live.Store(2)
	r := newTestRegistry(t, lg, &live, nil)

	r.EnsureSubscribed("r1")
	waitFor(t, 2*time.Second, func() bool { return r.roomState("r1") == stateActive }, "pump start")

	live.Store(1)
	r.ReleaseIfIdle("r1")
	if st := r.roomState("r1"); st != stateActive {
		t.Fatalf("pump released with a live member remaining: state %d", st)
	}
}
