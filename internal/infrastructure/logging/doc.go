// Package logging is the thin slog layer shared by both daemons.
//
// New builds a logger from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// Every record carries service and version fields so the streams from
// latchline and doorlinkd can be merged and split again downstream.
// Components derive child loggers with With:
//
//	log := logging.New(cfg.Logging, "latchline", version)
//	apiLog := log.With("component", "api")
//
// Secrets never go to the log. Short tokens appear only as a prefix:
//
//	log.Info("token issued", "token_prefix", token[:8]+"...")
package logging
