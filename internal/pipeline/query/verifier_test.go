package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/pkg/log"
)

func TestParseVerification_Valid(t *testing.T) {
	res := ParseVerification(verdictPass)
	require.NotNil(t, res.Grounded)
	assert.True(t, *res.Grounded)
	assert.Equal(t, "ok", res.Reason)
	assert.Equal(t, 2, res.ClaimsTotal)
	assert.Equal(t, 2, res.ClaimsSupported)
	assert.Equal(t, []common.Citation{{ClaimID: "1", Source: "a.md", Rank: 1}}, res.Citations)
}

func TestParseVerification_FencedAndPrefixed(t *testing.T) {
	raw := "Here is my assessment:\n```json\n{\"grounded\": \"true\", \"reason\": \"uses {braces}\", \"claims_total\": \"4\", \"claims_supported\": 3}\n```"
	res := ParseVerification(raw)
	require.NotNil(t, res.Grounded)
	assert.True(t, *res.Grounded)
	assert.Equal(t, "uses {braces}", res.Reason)
	assert.Equal(t, 4, res.ClaimsTotal)
	assert.Equal(t, 3, res.ClaimsSupported)
}

func TestParseVerification_SkipsInvalidCandidate(t *testing.T) {
	res := ParseVerification(`{not json} then {"grounded": false}`)
	require.NotNil(t, res.Grounded)
	assert.False(t, *res.Grounded)
}

func TestParseVerification_Malformed(t *testing.T) {
	raw := strings.Repeat("é", 600)
	res := ParseVerification(raw)
	assert.Nil(t, res.Grounded)
	assert.Equal(t, 500, utf8.RuneCountInString(res.Reason))
	assert.Zero(t, res.ClaimsTotal)
	assert.Zero(t, res.ClaimsSupported)
	assert.Empty(t, res.Citations)

	res = ParseVerification(`{"grounded": true`)
	assert.Nil(t, res.Grounded)
	assert.Equal(t, `{"grounded": true`, res.Reason)
}

func TestParseVerification_OddCitations(t *testing.T) {
	res := ParseVerification(`{"grounded": true, "citations": ["a.md", {"source": "b.md"}, 3]}`)
	assert.Equal(t, []common.Citation{{Source: "b.md"}}, res.Citations)

	res = ParseVerification(`{"grounded": true, "citations": "a.md"}`)
	assert.Empty(t, res.Citations)
}

func TestApplyPolicy(t *testing.T) {
	yes, no := true, false
	cases := []struct {
		name      string
		in        common.VerificationResult
		coverage  float64
		diversity int
		passes    bool
	}{
		{"no claims", common.VerificationResult{Grounded: &yes}, 0, 0, false},
		{"full coverage", common.VerificationResult{Grounded: &yes, ClaimsTotal: 2, ClaimsSupported: 2}, 1, 0, true},
		{"coverage below minimum", common.VerificationResult{Grounded: &yes, ClaimsTotal: 10, ClaimsSupported: 8}, 0.8, 0, false},
		{"coverage at minimum", common.VerificationResult{Grounded: &yes, ClaimsTotal: 10, ClaimsSupported: 9}, 0.9, 0, true},
		{"ungrounded", common.VerificationResult{Grounded: &no, ClaimsTotal: 1, ClaimsSupported: 1}, 1, 0, false},
		{"unknown", common.VerificationResult{ClaimsTotal: 1, ClaimsSupported: 1}, 1, 0, false},
		{"diversity", common.VerificationResult{Grounded: &yes, ClaimsTotal: 3, ClaimsSupported: 3, Citations: []common.Citation{
			{Source: "a.md"}, {Source: "a.md"}, {Source: ""}, {Source: "b.md"},
		}}, 1, 2, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := ApplyPolicy(tc.in, 0.9)
			assert.InDelta(t, tc.coverage, out.AttributionCoverage, 1e-9)
			assert.Equal(t, tc.diversity, out.EvidenceDiversity)
			assert.Equal(t, tc.passes, out.PassesPolicy)
			if out.PassesPolicy {
				assert.True(t, out.IsGrounded())
				assert.GreaterOrEqual(t, out.AttributionCoverage, 0.9)
			}
		})
	}
}

func TestVerifier_Verify(t *testing.T) {
	cfg := testConfig()
	cfg.Prompt.VerifyHuman = "Q={question} A={answer} C={context}"
	client := &fakeLLM{verifySystem: cfg.Prompt.VerifySystem, verdicts: []string{verdictLowCover}}
	sink := &log.MemorySink{}
	v := NewVerifier(client, cfg, sink, nil)

	res, err := v.Verify(context.Background(), taskQuestion("why"), "because", evidence(1), testMeta())
	require.NoError(t, err)
	assert.InDelta(t, 0.8, res.AttributionCoverage, 1e-9)
	assert.False(t, res.PassesPolicy)

	require.Len(t, client.calls, 1)
	assert.Equal(t, "Q=why A=because C=[1] chunk A\nSOURCE: srcA.md", client.calls[0].messages[1].Content)
	events := sink.Named(common.StageVerify)
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].Fields["passes_policy"])
}

func TestVerifier_BackendError(t *testing.T) {
	cfg := testConfig()
	client := &fakeLLM{verifySystem: cfg.Prompt.VerifySystem, verifyErr: errors.New("timeout")}
	v := NewVerifier(client, cfg, nil, nil)

	_, err := v.Verify(context.Background(), taskQuestion("q"), "a", nil, testMeta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrVerificationFailed))
}
