// Package server wires the back-chat runtime, services, and edge server into
// a running process.
package server

import (
	"context"
	"time"

	"github.com/Jak-Sim/back-chat/internal/archive"
	cfgpkg "github.com/Jak-Sim/back-chat/internal/config"
	"github.com/Jak-Sim/back-chat/internal/runtime"
	"github.com/Jak-Sim/back-chat/internal/server/ws"
	deliverysvc "github.com/Jak-Sim/back-chat/internal/services/delivery"
	roomsvc "github.com/Jak-Sim/back-chat/internal/services/rooms"
	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

// Options configures a server run.
type Options struct {
	DataDir       string
	ListenAddr    string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Run starts the server and blocks until ctx is canceled or the listener
// fails. On cancellation it drains connections and pumps before returning.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	cfg := opts.Config
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt, err := runtime.Open(runtime.Options{
		DataDir:       cfg.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: int(opts.FsyncInterval / time.Millisecond),
		Config:        cfg,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	arch := archive.New(rt.DB())
	rt.SetOverflow(arch)

	rooms := roomsvc.New(rt, logger, arch, nil)
	delivery := deliverysvc.New(rt, rooms, logger.With(logpkg.Component("delivery")))
	rooms.SetNotifier(delivery)
	rooms.SetLiveTeardown(delivery)

	srv := ws.New(ws.Options{
		Addr:     cfg.ListenAddr,
		Runtime:  rt,
		Delivery: delivery,
		Rooms:    rooms,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", logpkg.Err(err))
	}
	if err := delivery.Shutdown(shutdownCtx); err != nil {
		logger.Warn("delivery shutdown", logpkg.Err(err))
	}
	return <-errCh
}
