// Package catalog persists regions, discovered products, their download
// state and snow mask results in SQLite.
//
// Download state moves through a closed set of statuses:
//
//	pending → downloaded | failed
//	downloaded → processing | failed
//	processing → processed | failed
//
// Every move is a single conditional UPDATE guarded by the expected prior
// status; a worker that loses a race receives a ConflictError and treats the
// product as already handled. Operators can return failed products to pending
// (ResetFailed) and reclaim processing units abandoned by a crashed worker
// (ReclaimStaleProcessing).
//
// Schema changes bump schemaVersion; an older database is rejected with
// ErrSchemaMismatch rather than migrated in place.
package catalog
