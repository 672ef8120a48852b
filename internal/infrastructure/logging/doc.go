// Package logging provides structured logging for droidpilot.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the engine.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output, or coloured console output via tint, for development
//   - Optional tee to a log file
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "console"  # json, text, console
//	  output: "stderr"   # stdout, stderr
//	  file:
//	    path: "./logs/droidpilot.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("image found", "image", "start.png", "confidence", 0.93)
package logging
