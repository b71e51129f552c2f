// Package logging provides structured logging for the Z-Wave.Me bridge.
//
// This package wraps Go's standard log/slog package so that every component
// (hub connection, MQTT, HTTP API) logs with the same default fields.
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("hub connected", "url", cfg.Hub.URL)
//	logger.Component("mqtt").Error("publish failed", "error", err)
//
// Never log the hub token or broker credentials.
package logging
