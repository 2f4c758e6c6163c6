package planner

import (
	"strings"

	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

// Severity is the deterministic triage hint fed into the planning prompt.
// It is computed from keyword and error-code heuristics, never from a
// model call, so replay reproduces it exactly.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var highSignals = []string{
	"outage", "data loss", "data-loss", "down", "unreachable",
	"critical", "sev1", "sev-1", "breach", "corrupt",
}

var mediumSignals = []string{
	"timeout", "degraded", "intermittent", "spike", "latency",
	"error", "fail", "retry", "5xx",
}

// ClassifySeverity derives a severity hint from the incident text and the
// error codes of the retrieved candidates. Server-class error codes
// (HTTP 5xx suffixes) escalate to high.
func ClassifySeverity(incident string, candidates []retrieval.Candidate) Severity {
	text := strings.ToLower(incident)

	for _, sig := range highSignals {
		if strings.Contains(text, sig) {
			return SeverityHigh
		}
	}
	for _, cand := range candidates {
		if isServerErrorCode(cand.ErrorCode) {
			return SeverityHigh
		}
	}
	for _, sig := range mediumSignals {
		if strings.Contains(text, sig) {
			return SeverityMedium
		}
	}
	return SeverityLow
}

// isServerErrorCode reports whether an error code like "AUTH-500" or
// "PAY-503" ends in a 5xx status.
func isServerErrorCode(code string) bool {
	if len(code) < 3 {
		return false
	}
	tail := code[len(code)-3:]
	return tail[0] == '5' && isDigit(tail[1]) && isDigit(tail[2])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
