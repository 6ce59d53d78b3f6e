// Package followup manages the tracker issue that carries a run's unresolved
// findings past the attempt budget.
//
// Each follow-up embeds a hidden marker naming its source issue (see
// [SourceMarker]). Lookup by that marker before every mutation keeps at most
// one follow-up open per source issue across repeated runs.
package followup
