// Package preflight provides readiness checks for the filesystem paths and
// catalog source snowline depends on.
//
// These checks run in two contexts:
//   - The workflow manager calls RunAll before its loop starts. If any check
//     fails, the pipeline refuses to start rather than fail every unit.
//   - The CLI "snowline status" command prints the same results.
package preflight
