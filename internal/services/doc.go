// Package services defines the shared error vocabulary and context helpers
// used by the download orchestrator, the snow mask processor and the catalog
// client implementations.
//
// Key responsibilities:
//   - Context helpers that stamp product IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures keep both a
//     classification (transient, permanent, raster io, ...) and their cause.
//
// Retry decisions go through IsRetryable; metric labels and log fields use
// Kind so every stage reports failures with the same vocabulary.
package services
