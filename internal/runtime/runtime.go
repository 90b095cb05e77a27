package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	cfgpkg "github.com/Jak-Sim/back-chat/internal/config"
	"github.com/Jak-Sim/back-chat/internal/roomlog"
	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval int // milliseconds, when Fsync is interval mode
	Config        cfgpkg.Config
	// Overflow receives entries evicted by room-log retention. Optional.
	Overflow roomlog.OverflowSink
	// Metrics observes storage operations. Optional.
	Metrics pebblestore.MetricsHook
}

// Runtime wires storage and config for a single-node instance.
type Runtime struct {
	db       *pebblestore.DB
	config   cfgpkg.Config
	overflow roomlog.OverflowSink

	// Room logs are shared: the log's internal mutex serializes appends, so
	// every caller for a room must hold the same instance.
	mu   sync.Mutex
	logs map[string]*roomlog.Log
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: time.Duration(opts.FsyncInterval) * time.Millisecond,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:       db,
		config:   opts.Config,
		overflow: opts.Overflow,
		logs:     make(map[string]*roomlog.Log),
	}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SetOverflow installs the retention overflow sink after Open. The sink is
// captured when a room log is first opened, so this must run before any
// RoomLog call. Exists because the archive store needs the runtime's DB,
// which only exists once Open returns.
func (r *Runtime) SetOverflow(s roomlog.OverflowSink) {
	r.mu.Lock()
	r.overflow = s
	r.mu.Unlock()
}

// CheckHealth performs a simple storage reachability check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// RoomLog returns the shared log instance for a room, opening it on first use.
func (r *Runtime) RoomLog(roomID string) (*roomlog.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.logs[roomID]; ok {
		return l, nil
	}
	l, err := roomlog.Open(r.db, roomID, roomlog.Options{
		MaxEntries: r.config.MaxRoomEntries,
		Overflow:   r.overflow,
	})
	if err != nil {
		return nil, err
	}
	r.logs[roomID] = l
	return l, nil
}

// DropRoomLog destroys a room's log and forgets the cached instance. Used
// when a room is deleted.
func (r *Runtime) DropRoomLog(ctx context.Context, roomID string) error {
	r.mu.Lock()
	l, ok := r.logs[roomID]
	if ok {
		delete(r.logs, roomID)
	}
	r.mu.Unlock()
	if !ok {
		var err error
		l, err = roomlog.Open(r.db, roomID, roomlog.Options{})
		if err != nil {
			return err
		}
	}
	return l.Destroy(ctx)
}

// DB exposes the underlying store for metadata services.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
