// Package log provides back-chat's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// typed Field for structured context. It is backed by the standard library
// slog, so output format (text or JSON) and level are configured once at
// construction and shared by every component logger derived via With.
//
// Quick start:
//
//	l := log.NewLogger(log.WithLevel(log.InfoLevel), log.WithFormat(log.FormatText))
//	l = l.With(log.Component("delivery"))
//	l.Info("pump started", log.Str("room", roomID))
package log
