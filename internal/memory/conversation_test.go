package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/storage/cache"
	"grounded-rag/internal/storage/object"
	"grounded-rag/pkg/log"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestConversation(t *testing.T, c cache.Store, o object.Store, opts Options) (*Conversation, *log.MemorySink) {
	t.Helper()
	sink := &log.MemorySink{}
	conv, err := NewConversation(c, o, opts, sink, nil)
	require.NoError(t, err)
	conv.now = func() time.Time { return fixedNow }
	return conv, sink
}

func readLines(t *testing.T, o object.Store, path string) []string {
	t.Helper()
	data, err := object.ReadAll(context.Background(), o, path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

type failingIncr struct {
	cache.Store
}

func (failingIncr) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("incr down")
}

type failingGet struct {
	object.Store
}

func (failingGet) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("bucket unavailable")
}

func TestAppendTurn_SeqBufferAndDurableLog(t *testing.T) {
	ctx := context.Background()
	objects := object.NewMemoryStore()
	conv, sink := newTestConversation(t, cache.NewMemoryStore(), objects, Options{MaxTurns: 3, Prefix: "memlog"})

	for i := 1; i <= 5; i++ {
		turn := conv.AppendTurn(ctx, "c1", common.RoleUser, fmt.Sprintf("q%d", i), nil)
		assert.Equal(t, int64(i), turn.Seq)
		assert.Equal(t, "c1", turn.ConvID)
		assert.NotNil(t, turn.Meta)
	}

	buf := conv.GetBuffer(ctx, "c1")
	require.Len(t, buf, 3)
	assert.Equal(t, []string{"q3", "q4", "q5"}, []string{buf[0].Text, buf[1].Text, buf[2].Text})
	assert.Equal(t, int64(5), buf[2].Seq)

	lines := readLines(t, objects, "memlog/c1/2026-03-10.ndjson")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[0], `"text":"q1"`)

	assert.Len(t, sink.Named("mem.redis.append"), 5)
	assert.Len(t, sink.Named("mem.object.append"), 5)
	assert.Len(t, sink.Named("mem.init"), 1)
}

func TestAppendTurn_EmptyConvIDUsesDefault(t *testing.T) {
	conv, _ := newTestConversation(t, cache.NewMemoryStore(), nil, Options{})
	turn := conv.AppendTurn(context.Background(), "  ", common.RoleAssistant, "hi", map[string]any{"passed": true})
	assert.Equal(t, DefaultConvID, turn.ConvID)
	assert.Len(t, conv.GetBuffer(context.Background(), ""), 1)
}

func TestAppendTurn_SeqFallbackWithoutCache(t *testing.T) {
	conv, sink := newTestConversation(t, nil, nil, Options{})
	first := conv.AppendTurn(context.Background(), "c1", common.RoleUser, "a", nil)
	second := conv.AppendTurn(context.Background(), "c1", common.RoleUser, "b", nil)

	assert.Equal(t, fixedNow.Unix(), first.Seq)
	assert.Equal(t, first.Seq+1, second.Seq, "same second still increases")
	events := sink.Named("mem.seq.fallback")
	require.Len(t, events, 2)
	assert.Equal(t, "no_cache", events[0].Fields["reason"])
	assert.Empty(t, conv.GetBuffer(context.Background(), "c1"))
}

func TestAppendTurn_SeqNeverGoesBackAfterCacheRecovers(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	conv, sink := newTestConversation(t, failingIncr{store}, nil, Options{})
	degraded := conv.AppendTurn(ctx, "c1", common.RoleUser, "a", nil)
	assert.Equal(t, "cache_incr_error", sink.Named("mem.seq.fallback")[0].Fields["reason"])

	conv.cache = store
	recovered := conv.AppendTurn(ctx, "c1", common.RoleUser, "b", nil)
	assert.Greater(t, recovered.Seq, degraded.Seq)
	next := conv.AppendTurn(ctx, "c1", common.RoleUser, "c", nil)
	assert.Equal(t, recovered.Seq+1, next.Seq)
}

func TestAppendTurn_ObjectReadErrorDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	objects := object.NewMemoryStore()
	path := "memlog/c1/2026-03-10.ndjson"
	require.NoError(t, objects.Put(ctx, path, strings.NewReader("{\"seq\":1}\n"), 10, nil))

	conv, sink := newTestConversation(t, cache.NewMemoryStore(), failingGet{objects}, Options{Prefix: "memlog"})
	conv.AppendTurn(ctx, "c1", common.RoleUser, "q", nil)

	assert.Equal(t, []string{`{"seq":1}`}, readLines(t, objects, path))
	events := sink.Named("mem.object.append.error")
	require.Len(t, events, 1)
	assert.Equal(t, path, events[0].Fields["object"])
}

func TestAppendTurn_ConcurrentWritersKeepEveryLine(t *testing.T) {
	ctx := context.Background()
	objects := object.NewMemoryStore()
	conv, _ := newTestConversation(t, cache.NewMemoryStore(), objects, Options{MaxTurns: 100})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv.AppendTurn(ctx, "c1", common.RoleUser, fmt.Sprintf("q%d", i), nil)
		}(i)
	}
	wg.Wait()

	assert.Len(t, readLines(t, objects, "c1/2026-03-10.ndjson"), 20)
	assert.Empty(t, conv.locks.locks)
}

// gatedIncr 第一次 Incr 取到号后停住，直到 release 关闭
type gatedIncr struct {
	cache.Store
	parked  chan struct{}
	release chan struct{}

	mu      sync.Mutex
	calls   int
	holding bool
	overlap bool
}

func (g *gatedIncr) Incr(ctx context.Context, key string) (int64, error) {
	n, err := g.Store.Incr(ctx, key)
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	if g.holding {
		g.overlap = true
	}
	g.holding = first
	g.mu.Unlock()
	if first {
		close(g.parked)
		<-g.release
		g.mu.Lock()
		g.holding = false
		g.mu.Unlock()
	}
	return n, err
}

func TestAppendTurn_SeqNotSharedWhileCounterIsSlow(t *testing.T) {
	ctx := context.Background()
	gate := &gatedIncr{Store: cache.NewMemoryStore(), parked: make(chan struct{}), release: make(chan struct{})}
	conv, _ := newTestConversation(t, gate, nil, Options{MaxTurns: 100})

	seqs := make(chan int64, 3)
	go func() {
		seqs <- conv.AppendTurn(ctx, "c1", common.RoleUser, "a", nil).Seq
	}()
	<-gate.parked
	for _, text := range []string{"b", "c"} {
		go func(text string) {
			seqs <- conv.AppendTurn(ctx, "c1", common.RoleUser, text, nil).Seq
		}(text)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate.release)

	got := []int64{<-seqs, <-seqs, <-seqs}
	assert.ElementsMatch(t, []int64{1, 2, 3}, got)
	assert.False(t, gate.overlap, "counter read while another writer held an unconfirmed seq")
	assert.Equal(t, int64(4), conv.AppendTurn(ctx, "c1", common.RoleUser, "d", nil).Seq)

	other := conv.AppendTurn(ctx, "c2", common.RoleUser, "x", nil)
	assert.Equal(t, int64(1), other.Seq)
	assert.Empty(t, conv.locks.locks)
}

func seedLog(t *testing.T, o object.Store, path string, seqs ...int64) {
	t.Helper()
	var sb strings.Builder
	for _, s := range seqs {
		fmt.Fprintf(&sb, `{"ts":"x","conv_id":"c1","seq":%d,"role":"user","text":"t%d","meta":{}}`+"\n", s, s)
	}
	sb.WriteString("not json\n")
	require.NoError(t, o.Put(context.Background(), path, strings.NewReader(sb.String()), int64(sb.Len()), nil))
}

func TestEnsureBackfill_ReplaysRecentDaysInOrder(t *testing.T) {
	ctx := context.Background()
	objects := object.NewMemoryStore()
	seedLog(t, objects, "memlog/c1/2026-03-09.ndjson", 1, 2, 3)
	seedLog(t, objects, "memlog/c1/2026-03-10.ndjson", 4, 5)

	store := cache.NewMemoryStore()
	conv, sink := newTestConversation(t, store, objects, Options{MaxTurns: 4, Prefix: "memlog"})
	conv.EnsureBackfill(ctx, "c1")

	buf := conv.GetBuffer(ctx, "c1")
	require.Len(t, buf, 4)
	got := make([]int64, 0, len(buf))
	for _, turn := range buf {
		got = append(got, turn.Seq)
	}
	assert.Equal(t, []int64{2, 3, 4, 5}, got)

	ok := sink.Named("mem.backfill.ok")
	require.Len(t, ok, 1)
	assert.Equal(t, int64(5), ok[0].Fields["last_seq"])

	next := conv.AppendTurn(ctx, "c1", common.RoleUser, "again", nil)
	assert.Equal(t, int64(6), next.Seq)
}

func TestEnsureBackfill_RespectsMaxLines(t *testing.T) {
	ctx := context.Background()
	objects := object.NewMemoryStore()
	seedLog(t, objects, "c1/2026-03-08.ndjson", 1)
	seedLog(t, objects, "c1/2026-03-10.ndjson", 2, 3, 4)

	conv, _ := newTestConversation(t, cache.NewMemoryStore(), objects, Options{MaxTurns: 10, BackfillMaxLines: 2})
	conv.EnsureBackfill(ctx, "c1")

	buf := conv.GetBuffer(ctx, "c1")
	require.Len(t, buf, 2)
	assert.Equal(t, int64(3), buf[0].Seq)
	assert.Equal(t, int64(4), buf[1].Seq)
}

func TestEnsureBackfill_NoopWhenBufferNotEmpty(t *testing.T) {
	ctx := context.Background()
	objects := object.NewMemoryStore()
	seedLog(t, objects, "c1/2026-03-10.ndjson", 1, 2)

	conv, sink := newTestConversation(t, cache.NewMemoryStore(), objects, Options{})
	conv.AppendTurn(ctx, "c1", common.RoleUser, "fresh", nil)
	conv.EnsureBackfill(ctx, "c1")

	assert.Len(t, conv.GetBuffer(ctx, "c1"), 1)
	skip := sink.Named("mem.backfill.skip")
	require.Len(t, skip, 1)
	assert.Equal(t, "buffer_not_empty", skip[0].Fields["reason"])
}

func TestEnsureBackfill_SkipsWithoutBackends(t *testing.T) {
	conv, sink := newTestConversation(t, cache.NewMemoryStore(), nil, Options{})
	conv.EnsureBackfill(context.Background(), "c1")
	require.Len(t, sink.Named("mem.backfill.skip"), 1)

	conv, sink = newTestConversation(t, cache.NewMemoryStore(), object.NewMemoryStore(), Options{})
	conv.EnsureBackfill(context.Background(), "c1")
	assert.Len(t, sink.Named("mem.backfill.empty"), 1)
}

func TestConversation_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedisStoreFromClient(client)
	defer store.Close()

	ctx := context.Background()
	conv, _ := newTestConversation(t, store, object.NewMemoryStore(), Options{MaxTurns: 2, TTL: time.Hour})
	conv.AppendTurn(ctx, "c1", common.RoleUser, "q1", nil)
	conv.AppendTurn(ctx, "c1", common.RoleAssistant, "a1", nil)
	conv.AppendTurn(ctx, "c1", common.RoleUser, "q2", nil)

	buf := conv.GetBuffer(ctx, "c1")
	require.Len(t, buf, 2)
	assert.Equal(t, common.RoleAssistant, buf[0].Role)
	assert.Equal(t, "q2", buf[1].Text)
	assert.Equal(t, time.Hour, mr.TTL("buffer:c1"))

	seq, err := mr.Get("buffer:c1:seq")
	require.NoError(t, err)
	assert.Equal(t, "3", seq)

	mr.FlushAll()
	conv.EnsureBackfill(ctx, "c1")
	assert.Len(t, conv.GetBuffer(ctx, "c1"), 2)
	next := conv.AppendTurn(ctx, "c1", common.RoleAssistant, "a2", nil)
	assert.Equal(t, int64(4), next.Seq)
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{Prefix: "/memlog/"}.withDefaults()
	assert.Equal(t, 20, o.MaxTurns)
	assert.Equal(t, 24*time.Hour, o.TTL)
	assert.Equal(t, "memlog", o.Prefix)
	assert.Equal(t, 50, o.BackfillMaxLines)
	assert.Equal(t, 3, o.BackfillDays)
}
