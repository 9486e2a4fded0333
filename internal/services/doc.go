// Package services defines shared utilities consumed by the workflow stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp media item IDs, stage names, window indices,
//     and correlation identifiers for logging and tracing.
//   - The structured error taxonomy (transient / malformed / fatal) plus the
//     Wrap helper that keeps retry and escalation decisions uniform across
//     the pipeline.
package services
