// Package logging wraps log/slog with the handlers and helpers used across the
// daemon and CLI.
//
// New builds either a console handler (timestamp, level, component prefix,
// key=value attrs) or a JSON handler, writing to stdout plus the configured log
// file. Context helpers stamp item, stage, and window identifiers onto loggers
// so pipeline code never threads those fields manually.
package logging
