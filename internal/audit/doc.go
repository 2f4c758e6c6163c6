// Package audit persists every completed triage run as an immutable
// record and supports deterministic reconstruction of past runs.
//
// Runs are written only after a terminal decision is reached, in a single
// atomic insert: a concurrent reader observes either the whole Run or
// nothing. Records are never mutated or deleted; retention is an external
// policy concern.
//
// Each Run snapshots the confidence thresholds that were live when it
// executed. Replay re-runs planning and gating against that snapshot, not
// against current configuration, so a replayed decision is reproducible
// even after thresholds change.
package audit
