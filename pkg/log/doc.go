// Package log provides structured protocol capture for the gamelink transports.
//
// This package defines the Logger interface and Event types for recording
// transport-level events (payloads in and out, state changes, errors) on
// TLS streams, datagram sockets and multicast listeners. It is separate from
// operational logging (slog): protocol capture is a complete machine-readable
// trace for debugging and analysis.
//
// # Basic Usage
//
// Transports take an optional Logger in their configuration:
//
//	// For development: log to console via slog
//	cfg.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.Logger, _ = log.NewFileLogger("/var/log/gamelink/client.glog")
//
//	// Both: use MultiLogger
//	cfg.Logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Every event names the layer that produced it (stream, datagram or
// multicast) and carries exactly one payload:
//   - Payload: bytes sent or received (PayloadEvent)
//   - StateChange: lifecycle transitions (StateChangeEvent)
//   - Error: failures at any layer (ErrorEventData)
//
// # File Format
//
// Log files use CBOR encoding with the .glog extension. The gamelink-log CLI
// provides viewing, filtering, and export capabilities.
package log
