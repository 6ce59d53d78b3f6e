// Package engine runs one review convergence pass end to end: the attempt
// loop, lifecycle reconciliation against the remote change, finding
// publication, the follow-up issue decision and thread auto-resolution.
//
// Every remote collaborator is optional and injected, so a run with no
// tracker configured still produces a complete Result from the loop alone.
package engine
