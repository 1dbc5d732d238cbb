// Package logging provides structured logging for habitat-core.
//
// It wraps log/slog so every package logs with the same handler, level and
// default fields (service, version). JSON is the production format; text is
// friendlier on a terminal.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log push tokens, VAPID keys or the hardware API key in full.
package logging
