// Package planner obtains structured remediation plans from an external
// reasoning capability and guarantees the output satisfies the plan
// contract before it proceeds.
//
// The reasoning capability is opaque: anything implementing Generator.
// This package owns prompt construction, response parsing, validation and
// the bounded retry-with-repair loop. It never fabricates a default plan;
// when the retry bound is exhausted the caller gets ErrPlanGeneration and
// nothing else.
package planner
