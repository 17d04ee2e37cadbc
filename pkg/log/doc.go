// Package log provides the structured logging facade shared by the
// provenance journal components.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves the
// formatter/outputs pipeline, so output stays consistent whether a component
// logs through this facade or through a redirected stdlib logger.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.WithComponent("journal")
//	l.Info("block rotated", log.Uint64("offset", off), log.Int("block", idx))
//
// # Interop
//
// To integrate with libraries expecting *log.Logger (Pebble in particular),
// use RedirectStdLog.
package log
