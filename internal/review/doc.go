// Package review contains the finding model and the attempt loop that drives
// review rounds to convergence.
//
// A round is executed by an external [RoundRunner] and must return a
// [RoundOutput] that passes [Validate]; anything else aborts the run with
// [ErrMalformedRound]. Findings are identified by [Fingerprint], a SHA-256
// digest over normalized pass, severity, file, line, title and body. When
// fingerprints cannot match across environments (for example differing
// absolute-path prefixes), [CanonicalKey] provides a looser identity built
// from the workspace-relative path, line and normalized title.
//
// [Loop.Run] stops with exactly one [TerminationReason], checked in this
// order after each round: completed, same-fingerprints (an autofixed round
// repeating the previous round's findings), max-attempts, no-autofix,
// no-autofix-changes.
package review
