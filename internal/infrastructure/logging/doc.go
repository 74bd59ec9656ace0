// Package logging provides structured logging for pip-core.
//
// It wraps log/slog with default fields (service, version) and a
// Component helper so every subsystem tags its entries:
//
//	logger := logging.New(cfg.Logging, version)
//	regLog := logger.Component("device-registry")
//	regLog.Info("device registered", "device_id", id)
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log JWTs, webhook secrets, or raw device command payloads.
package logging
