// Package logging provides structured logging for the SIAMP light server.
//
// It wraps log/slog so every package logs through the same handler with
// the same default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("mqtt").Info("connected", "broker", addr)
//
// Never log secrets: broker passwords, JWT secrets and bearer tokens stay
// out of log fields.
package logging
