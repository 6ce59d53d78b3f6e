// Package output renders the summary of a review run.
//
// Four formats are supported:
//   - markdown: the summary document, suitable for a PR comment or job summary (default)
//   - text: terminal output with box-drawn tables
//   - json: the full structured result
//   - sarif: unresolved findings as SARIF v2.1.0 for code-scanning upload
//
// Use [GetWriter] to obtain a [Writer] for a format string, or [WriteResult]
// to render straight to a file or stdout.
package output
