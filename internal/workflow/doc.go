// Package workflow drives the acquisition pipeline on a timer.
//
// Each cycle the Manager returns stale processing units to downloaded,
// optionally discovers new scenes, runs a download batch and then a
// processing batch, and publishes catalog status counts. Stage failures are
// recorded per product by the stages themselves; the manager only logs the
// batch summaries and keeps the last error for status reporting.
//
// Add new stages by extending StageSet and ConfigureStages; the order they
// are appended is the order they run in every cycle.
package workflow
