package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/pkg/log"
)

func newTestRecovery(s *fakeSearcher, client *fakeLLM, sink log.EventSink) *Recovery {
	cfg := testConfig()
	cfg.Recovery.Synonyms = []string{"restart", "reboot"}
	g := NewGenerator(client, cfg, sink, nil)
	v := NewVerifier(client, cfg, sink, nil)
	return NewRecovery(s, g, v, cfg, sink, nil)
}

func TestAugmentQuery(t *testing.T) {
	assert.Equal(t, "q", AugmentQuery("q", nil))
	assert.Equal(t, "q | a | b", AugmentQuery("q", []string{"a", "b"}))
}

func TestRecovery_Recovered(t *testing.T) {
	cfg := testConfig()
	s := newFakeSearcher(hit("c1", "a.md", 0, 0.9), hit("n1", "n.md", 0, 0.8))
	client := &fakeLLM{verifySystem: cfg.Prompt.VerifySystem, answers: []string{"second answer"}, verdicts: []string{verdictPass}}
	sink := &log.MemorySink{}
	r := newTestRecovery(s, client, sink)

	existing := []common.EvidenceItem{{ChunkID: "c1", Source: "a.md", Content: "existing content"}}
	out := r.Recover(context.Background(), taskQuestion("how to restart"), common.RoutingDecision{K: 6}, existing, nil, testMeta())
	assert.True(t, out.Recovered)
	assert.Equal(t, OutcomeRecovered, out.Status)
	assert.Equal(t, "second answer", out.Answer)

	assert.Equal(t, []searchCall{{query: "how to restart | restart | reboot", k: 20}}, s.searchCalls())
	prompt := client.answerCalls()[0].messages[1].Content
	assert.Contains(t, prompt, "[1] existing content\nSOURCE: a.md")
	assert.Contains(t, prompt, "[2] content of n1\nSOURCE: n.md")
	assert.NotContains(t, prompt, "[3]")

	events := sink.Named(common.StageRecovery)
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeRecovered, events[0].Fields["outcome"])
	assert.Equal(t, 1, events[0].Fields["attempts"])
}

func TestRecovery_DoublesK(t *testing.T) {
	cfg := testConfig()
	s := newFakeSearcher()
	client := &fakeLLM{verifySystem: cfg.Prompt.VerifySystem, verdicts: []string{verdictPass}}
	r := newTestRecovery(s, client, nil)

	r.Recover(context.Background(), taskQuestion("q"), common.RoutingDecision{K: 12}, nil, nil, testMeta())
	assert.Equal(t, 24, s.searchCalls()[0].k)
}

func TestRecovery_Degraded(t *testing.T) {
	cfg := testConfig()
	client := &fakeLLM{verifySystem: cfg.Prompt.VerifySystem, answers: []string{"still weak"}, verdicts: []string{verdictLowCover}}
	r := newTestRecovery(newFakeSearcher(), client, nil)

	out := r.Recover(context.Background(), taskQuestion("q"), common.RoutingDecision{K: 6}, nil, nil, testMeta())
	assert.False(t, out.Recovered)
	assert.Equal(t, OutcomeDegraded, out.Status)
	assert.Equal(t, DegradedMessage, out.Answer)
}

func TestRecovery_AbortedNeverPropagates(t *testing.T) {
	cfg := testConfig()
	cases := map[string]func(s *fakeSearcher, c *fakeLLM){
		"search":   func(s *fakeSearcher, _ *fakeLLM) { s.errFor = func(string, int) error { return errors.New("down") } },
		"generate": func(_ *fakeSearcher, c *fakeLLM) { c.answerErr = errors.New("llm down") },
		"verify":   func(_ *fakeSearcher, c *fakeLLM) { c.verifyErr = errors.New("llm down") },
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			s := newFakeSearcher()
			client := &fakeLLM{verifySystem: cfg.Prompt.VerifySystem, verdicts: []string{verdictPass}}
			breakIt(s, client)
			sink := &log.MemorySink{}
			r := newTestRecovery(s, client, sink)

			out := r.Recover(context.Background(), taskQuestion("q"), common.RoutingDecision{K: 6}, nil, nil, testMeta())
			assert.Equal(t, OutcomeAborted, out.Status)
			assert.Equal(t, DegradedMessage, out.Answer)
			events := sink.Named(common.StageRecovery)
			require.Len(t, events, 1)
			assert.Equal(t, OutcomeAborted, events[0].Fields["outcome"])
			assert.NotEmpty(t, events[0].Fields["error"])
		})
	}
}
