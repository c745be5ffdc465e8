// Package logging provides structured logging for the smart-bulb core.
//
// It wraps log/slog so that every entry carries the service name and
// build version, and so that components can be tagged with Component.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("ble").Info("scan started", "window", window)
//
// Never log MQTT passwords, InfluxDB tokens or backend credentials.
package logging
