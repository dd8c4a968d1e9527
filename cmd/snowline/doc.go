// Package main hosts the snowline CLI entrypoint and command graph.
//
// The Cobra-based command tree wires configuration, the catalog store, the
// catalog client and the pipeline stages together for one-shot commands
// (discover, download, process, reset) and for the long-running "run" loop.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
