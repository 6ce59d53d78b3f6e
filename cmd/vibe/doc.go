// Vibe is a review convergence engine for agent-driven changes.
//
// It runs an external review agent through bounded attempts over five fixed
// passes, reconciles the findings with the change's review threads, resolves
// threads once the review converges, and keeps one follow-up issue per source
// issue while findings remain.
//
// Usage:
//
//	vibe run --issue 34 --pr 12 --publish -- ./review-agent   # review a change
//	vibe schema                                              # agent output contract
//	vibe threads list --pr 12                                # inspect review threads
//	vibe config init                                         # write default config
package main
