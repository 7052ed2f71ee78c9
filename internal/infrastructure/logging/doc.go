// Package logging provides structured logging for the KLW bridge.
//
// It wraps log/slog so every component logs the same way: JSON for
// production, text for development, with service and version attached to
// every entry.
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
//	client, err := klw.New(klw.Config{Host: host, Logger: logger.Component("gateway")})
//
// Never log the gateway password, the challenge code or broker credentials.
package logging
