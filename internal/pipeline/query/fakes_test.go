package query

import (
	"context"
	"errors"
	"strings"
	"sync"

	einoembed "github.com/cloudwego/eino/components/embedding"

	"grounded-rag/internal/model/llm"
	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/storage/vector"
	"grounded-rag/pkg/config"
)

type searchCall struct {
	query string
	k     int
}

// fakeSearcher 固定结果的检索器；errFor 返回非 nil 时该次调用失败
type fakeSearcher struct {
	mu      sync.Mutex
	hits    map[string][]vector.Hit // query -> hits；"*" 为默认
	lookups map[string]*vector.Hit
	errFor  func(query string, k int) error
	calls   []searchCall
	looked  []string
}

func newFakeSearcher(defaultHits ...vector.Hit) *fakeSearcher {
	return &fakeSearcher{
		hits:    map[string][]vector.Hit{"*": defaultHits},
		lookups: map[string]*vector.Hit{},
	}
}

func (f *fakeSearcher) SearchWithScore(_ context.Context, query string, k int) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, searchCall{query: query, k: k})
	if f.errFor != nil {
		if err := f.errFor(query, k); err != nil {
			return nil, err
		}
	}
	hits, ok := f.hits[query]
	if !ok {
		hits = f.hits["*"]
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]vector.Hit, len(hits))
	copy(out, hits)
	return out, nil
}

func (f *fakeSearcher) Lookup(_ context.Context, chunkID string) (*vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.looked = append(f.looked, chunkID)
	h, ok := f.lookups[chunkID]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (f *fakeSearcher) searchCalls() []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]searchCall(nil), f.calls...)
}

type llmCall struct {
	messages []llm.Message
	opts     llm.GenerateOptions
}

// fakeLLM 按 system 提示区分回答与校验调用，依次返回脚本中的输出
type fakeLLM struct {
	mu           sync.Mutex
	verifySystem string
	answers      []string
	verdicts     []string
	answerErr    error
	verifyErr    error
	calls        []llmCall
}

func (f *fakeLLM) ChatWithContext(_ context.Context, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, llmCall{messages: messages, opts: opts})
	if len(messages) > 0 && messages[0].Content == f.verifySystem {
		if f.verifyErr != nil {
			return "", f.verifyErr
		}
		return pop(&f.verdicts), nil
	}
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return pop(&f.answers), nil
}

func (f *fakeLLM) Model() string    { return "fake-llm" }
func (f *fakeLLM) Provider() string { return "fake" }

func (f *fakeLLM) answerCalls() []llmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llmCall
	for _, c := range f.calls {
		if c.messages[0].Content != f.verifySystem {
			out = append(out, c)
		}
	}
	return out
}

// pop 取出队首；只剩一个时重复返回它
func pop(queue *[]string) string {
	if len(*queue) == 0 {
		return ""
	}
	v := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return v
}

type fakeReranker struct {
	scores []float64
	err    error
	calls  int
}

func (r *fakeReranker) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.scores[:len(texts)], nil
}

func (r *fakeReranker) Name() string { return "fake-reranker" }

type failingGraph struct{}

func (failingGraph) Neighbors(context.Context, string) ([]string, error) {
	return nil, errors.New("graph down")
}
func (failingGraph) Close() error { return nil }

// fakeMemory 记录调用的内存实现
type fakeMemory struct {
	mu        sync.Mutex
	buffer    map[string][]common.Turn
	backfills []string
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{buffer: map[string][]common.Turn{}}
}

func (m *fakeMemory) EnsureBackfill(_ context.Context, convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfills = append(m.backfills, convID)
}

func (m *fakeMemory) GetBuffer(_ context.Context, convID string) []common.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]common.Turn(nil), m.buffer[convID]...)
}

func (m *fakeMemory) AppendTurn(_ context.Context, convID string, role common.Role, text string, meta map[string]any) common.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := common.Turn{ConvID: convID, Seq: int64(len(m.buffer[convID]) + 1), Role: role, Text: text, Meta: meta}
	m.buffer[convID] = append(m.buffer[convID], t)
	return t
}

func hit(id, source string, idx int, score float64) vector.Hit {
	return vector.Hit{ChunkID: id, Source: source, ChunkIndex: idx, Content: "content of " + id, Score: score}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Router.LangAllow = nil
	cfg.Recovery.Synonyms = nil
	cfg.Continuity.Keywords = nil
	return cfg
}

func testMeta() common.RequestMeta {
	return common.RequestMeta{TraceID: "trace-1", QuestionHash: "h", IndexVersion: "v1"}
}

const (
	verdictPass       = `{"grounded": true, "reason": "ok", "claims_total": 2, "claims_supported": 2, "citations": [{"claim_id": "1", "source": "a.md", "rank": 1}]}`
	verdictLowCover   = `{"grounded": true, "reason": "partial", "claims_total": 10, "claims_supported": 8, "citations": []}`
	verdictUngrounded = `{"grounded": false, "reason": "no support", "claims_total": 1, "claims_supported": 0, "citations": []}`
)

// termEmbedder 按 redis / postgres 关键词生成 2 维向量
type termEmbedder struct{}

func (termEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...einoembed.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := []float64{0.01, 0.01}
		if strings.Contains(t, "redis") {
			v[0] = 1
		}
		if strings.Contains(t, "postgres") {
			v[1] = 1
		}
		out[i] = v
	}
	return out, nil
}
