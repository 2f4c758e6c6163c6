package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name       string
		incident   string
		candidates []retrieval.Candidate
		want       Severity
	}{
		{"outage keyword", "full outage of checkout", nil, SeverityHigh},
		{"data loss keyword", "possible data loss in replication", nil, SeverityHigh},
		{"server error code in context", "odd login behavior",
			[]retrieval.Candidate{{ChunkID: "c1", ErrorCode: "AUTH-500"}}, SeverityHigh},
		{"timeout keyword", "requests hit a timeout on login", nil, SeverityMedium},
		{"latency keyword", "latency spike on search", nil, SeverityMedium},
		{"benign", "please update the onboarding doc link", nil, SeverityLow},
		{"client error code stays low", "login quirk",
			[]retrieval.Candidate{{ChunkID: "c1", ErrorCode: "AUTH-404"}}, SeverityLow},
		{"case insensitive", "CRITICAL alert from pager", nil, SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySeverity(tt.incident, tt.candidates))
		})
	}
}

func TestClassifySeverity_Deterministic(t *testing.T) {
	cands := []retrieval.Candidate{{ChunkID: "c1", ErrorCode: "PAY-503"}}
	first := ClassifySeverity("intermittent failures", cands)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifySeverity("intermittent failures", cands))
	}
}

func TestIsServerErrorCode(t *testing.T) {
	assert.True(t, isServerErrorCode("AUTH-500"))
	assert.True(t, isServerErrorCode("PAY-503"))
	assert.False(t, isServerErrorCode("AUTH-404"))
	assert.False(t, isServerErrorCode(""))
	assert.False(t, isServerErrorCode("X5"))
	assert.False(t, isServerErrorCode("V1-5AB"))
}
