// Package logging provides structured logging for the lanwake controller.
//
// It wraps log/slog so every component logs with the same handler,
// level filter and default fields (service, version). Components derive
// child loggers with With("component", name).
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log passwords, bearer tokens or the JWT secret.
package logging
