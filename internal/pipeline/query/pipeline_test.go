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

type pipelineFixture struct {
	searcher *fakeSearcher
	client   *fakeLLM
	memory   *fakeMemory
	sink     *log.MemorySink
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, s *fakeSearcher, answers, verdicts []string) *pipelineFixture {
	t.Helper()
	cfg := testConfig()
	client := &fakeLLM{verifySystem: cfg.Prompt.VerifySystem, answers: answers, verdicts: verdicts}
	mem := newFakeMemory()
	sink := &log.MemorySink{}
	p, err := NewPipeline(Dependencies{
		Config:       cfg,
		Searcher:     s,
		LLM:          client,
		Memory:       mem,
		Sink:         sink,
		ModelVersion: common.ModelVersion{Embedder: "emb", LLM: "fake-llm"},
	})
	require.NoError(t, err)
	return &pipelineFixture{searcher: s, client: client, memory: mem, sink: sink, pipeline: p}
}

// weakHits 触发检索（低置信度）
func weakHits() *fakeSearcher {
	return newFakeSearcher(hit("c1", "a.md", 0, 0.3), hit("c2", "a.md", 1, 0.29), hit("c3", "b.md", 0, 0.2))
}

func TestPipeline_ChitchatUngroundedReturnsSafeMessage(t *testing.T) {
	f := newPipelineFixture(t, newFakeSearcher(), []string{"hello there"}, []string{verdictUngrounded})

	resp, err := f.pipeline.Invoke(context.Background(), "hola", "")
	require.NoError(t, err)
	assert.Equal(t, SafeMessage, resp.Answer)
	assert.Equal(t, DefaultConvID, resp.ConvID)

	gates := f.sink.Named("citation_gate")
	require.Len(t, gates, 1)
	assert.Equal(t, false, gates[0].Fields["passed"])
	assert.Empty(t, f.sink.Named(common.StageRetrieval))
	assert.Len(t, f.client.calls, 2)
}

func TestPipeline_ChitchatUnknownGroundingKeepsAnswer(t *testing.T) {
	f := newPipelineFixture(t, newFakeSearcher(), []string{"hello there"}, []string{"not json"})

	resp, err := f.pipeline.Invoke(context.Background(), "hola", "c1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Answer)
}

func TestPipeline_GroundedAnswerSkipsRecovery(t *testing.T) {
	f := newPipelineFixture(t, weakHits(), []string{"grounded answer"}, []string{verdictPass})

	resp, err := f.pipeline.Invoke(context.Background(), "how do I rotate keys", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", resp.Answer)
	assert.Equal(t, "conv-1", resp.ConvID)
	assert.Empty(t, f.sink.Named(common.StageRecovery))

	policy := f.sink.Named(common.StagePolicy)
	require.Len(t, policy, 1)
	assert.Equal(t, true, policy[0].Fields["passed"])
	assert.NotEmpty(t, policy[0].Fields["trace_id"])
	assert.Len(t, f.sink.Named(common.StageRoute), 1)
	assert.Len(t, f.sink.Named(common.StageRetrieval), 1)
}

func TestPipeline_LowCoverageTriggersRecoveryOnce(t *testing.T) {
	f := newPipelineFixture(t, weakHits(), []string{"first", "second"}, []string{verdictLowCover})

	resp, err := f.pipeline.Invoke(context.Background(), "how do I rotate keys", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, DegradedMessage, resp.Answer)
	assert.Len(t, f.sink.Named(common.StageRecovery), 1)
	assert.Len(t, f.client.calls, 4, "answer, verify, re-answer, re-verify")
	assert.Len(t, f.sink.Named(common.StagePolicy), 1)
}

func TestPipeline_RecoveredAnswer(t *testing.T) {
	f := newPipelineFixture(t, weakHits(), []string{"first", "second"}, []string{verdictLowCover, verdictPass})

	resp, err := f.pipeline.Invoke(context.Background(), "how do I rotate keys", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Answer)
	policy := f.sink.Named(common.StagePolicy)
	require.Len(t, policy, 1)
	assert.Equal(t, true, policy[0].Fields["recovered"])
}

func TestPipeline_GenerationErrorPropagates(t *testing.T) {
	f := newPipelineFixture(t, weakHits(), nil, nil)
	f.client.answerErr = errors.New("llm down")

	_, err := f.pipeline.Invoke(context.Background(), "how do I rotate keys", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrGenerationFailed))
	turns := f.memory.GetBuffer(context.Background(), DefaultConvID)
	require.Len(t, turns, 1, "only the user turn is recorded")
	assert.Equal(t, common.RoleUser, turns[0].Role)
}

func TestPipeline_PrimarySearchErrorPropagates(t *testing.T) {
	s := weakHits()
	s.errFor = func(_ string, k int) error {
		if k == probeK {
			return nil
		}
		return errors.New("store down")
	}
	f := newPipelineFixture(t, s, []string{"a"}, []string{verdictPass})

	_, err := f.pipeline.Invoke(context.Background(), "how do I rotate keys", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrRetrievalFailed))
}

func TestPipeline_MemoryRoundTrip(t *testing.T) {
	f := newPipelineFixture(t, weakHits(), []string{"answer one", "answer two"}, []string{verdictPass})
	ctx := context.Background()

	resp, err := f.pipeline.Invoke(ctx, "first question", "conv-9")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.HistoryTurnsUsed)

	resp, err = f.pipeline.Invoke(ctx, "second question", "conv-9")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.HistoryTurnsUsed)

	turns := f.memory.GetBuffer(ctx, "conv-9")
	require.Len(t, turns, 4)
	assert.Equal(t, []common.Role{common.RoleUser, common.RoleAssistant, common.RoleUser, common.RoleAssistant},
		[]common.Role{turns[0].Role, turns[1].Role, turns[2].Role, turns[3].Role})
	assert.Equal(t, "answer one", turns[1].Text)
	assert.Equal(t, []string{"conv-9", "conv-9"}, f.memory.backfills)

	prompt := f.client.answerCalls()[1].messages[1].Content
	assert.Contains(t, prompt, "User: first question\nAssistant: answer one")
}

func TestPipeline_EmptyQuestion(t *testing.T) {
	f := newPipelineFixture(t, weakHits(), nil, nil)
	_, err := f.pipeline.Invoke(context.Background(), "   ", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
	assert.True(t, common.IsValidationError(err))
	assert.Empty(t, f.client.calls)
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(Dependencies{Config: testConfig()})
	assert.Error(t, err)
	_, err = NewPipeline(Dependencies{Config: testConfig(), Searcher: newFakeSearcher()})
	assert.Error(t, err)
}
