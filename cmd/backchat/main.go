package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	serverrun "github.com/Jak-Sim/back-chat/internal/cmd/server"
	cfgpkg "github.com/Jak-Sim/back-chat/internal/config"
	pebblestore "github.com/Jak-Sim/back-chat/internal/storage/pebble"
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "backchat",
		Short: "back-chat server CLI",
		Long:  "back-chat is a single-binary chat message delivery server. This CLI manages it.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the back-chat server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			addr, _ := cmd.Flags().GetString("addr")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			var mode pebblestore.FsyncMode
			switch fsyncMode {
			case "always":
				mode = pebblestore.FsyncModeAlways
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "never":
				mode = pebblestore.FsyncModeNever
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}

			level, err := logpkg.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			format, err := logpkg.ParseFormat(cfg.Log.Format)
			if err != nil {
				return err
			}
			logger := logpkg.NewLogger(logpkg.WithLevel(level), logpkg.WithFormat(format))

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				ListenAddr:    addr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
				Logger:        logger,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "path to JSON config file")
	serverStartCmd.Flags().String("data-dir", "", "data directory (overrides config)")
	serverStartCmd.Flags().String("addr", "", "listen address (overrides config)")
	serverStartCmd.Flags().String("fsync", "always", "fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 100, "fsync interval for --fsync=interval")
	serverStartCmd.Flags().String("log-level", "", "log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("backchat dev")
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
