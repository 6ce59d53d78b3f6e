// Package lifecycle merges a run's findings with the finding history recorded
// on the remote pull request, so that reported counts span every run rather
// than the latest attempt only.
package lifecycle
