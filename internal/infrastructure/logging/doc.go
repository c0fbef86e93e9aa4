// Package logging provides structured logging for the transfer daemon.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filter.
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
//	engineLog := logger.Component("engine")
//	engineLog.Info("auto mode enabled", "station", cfg.Station.ID)
package logging
