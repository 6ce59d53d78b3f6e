// Package gitctx reads workspace metadata from git: the repository root used
// to relativize finding paths, the current branch and HEAD, and the
// owner/name slug of the origin remote.
package gitctx
