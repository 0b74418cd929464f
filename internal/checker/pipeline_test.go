package checker_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upwatch/upwatch/internal/analyzer"
	"github.com/upwatch/upwatch/internal/checker"
	"github.com/upwatch/upwatch/internal/domain"
	"github.com/upwatch/upwatch/internal/ingest"
	"github.com/upwatch/upwatch/internal/probe"
	"github.com/upwatch/upwatch/internal/producer"
	"github.com/upwatch/upwatch/internal/repository"
	"github.com/upwatch/upwatch/internal/storage"
	"github.com/upwatch/upwatch/internal/stream"
)

// memoryLog is an in-memory ordered log with one read cursor per consumer
// group, standing in for the broker so the stages exchange entries through
// the real wire codec.
type memoryLog struct {
	entries []stream.Entry
	cursor  map[string]int
	acked   map[string][]string
}

func newMemoryLog() *memoryLog {
	return &memoryLog{cursor: map[string]int{}, acked: map[string][]string{}}
}

func (l *memoryLog) append(values map[string]interface{}) {
	l.entries = append(l.entries, stream.Entry{
		ID:     fmt.Sprintf("%d-0", len(l.entries)+1),
		Values: values,
	})
}

func (l *memoryLog) take(group string, max int64) []stream.Entry {
	start := l.cursor[group]
	end := start + int(max)
	if end > len(l.entries) {
		end = len(l.entries)
	}
	l.cursor[group] = end
	return l.entries[start:end]
}

func (l *memoryLog) ack(group string, ids ...string) {
	l.acked[group] = append(l.acked[group], ids...)
}

type memoryCheckQueue struct {
	log   *memoryLog
	group string
}

func (q *memoryCheckQueue) Setup(ctx context.Context) error { return nil }

func (q *memoryCheckQueue) Publish(ctx context.Context, reqs []domain.CheckRequest) (int, error) {
	for _, req := range reqs {
		q.log.append(stream.EncodeRequest(req))
	}
	return len(reqs), nil
}

func (q *memoryCheckQueue) Fetch(ctx context.Context, max int64) ([]repository.PendingCheck, error) {
	var out []repository.PendingCheck
	for _, e := range q.log.take(q.group, max) {
		req, err := stream.DecodeRequest(e)
		if err != nil {
			return nil, err
		}
		out = append(out, repository.PendingCheck{EntryID: e.ID, DeliveryCount: 1, Req: req})
	}
	return out, nil
}

func (q *memoryCheckQueue) Claim(ctx context.Context, minIdle time.Duration, max int64) ([]repository.PendingCheck, error) {
	return nil, nil
}

func (q *memoryCheckQueue) Ack(ctx context.Context, ids ...string) error {
	q.log.ack(q.group, ids...)
	return nil
}

type memoryResultPublisher struct {
	log *memoryLog
}

func (p *memoryResultPublisher) Publish(ctx context.Context, res domain.CheckResult) error {
	p.log.append(stream.EncodeResult(res))
	return nil
}

type memoryResultQueue struct {
	log   *memoryLog
	group string
}

func (q *memoryResultQueue) Setup(ctx context.Context) error { return nil }

func (q *memoryResultQueue) Fetch(ctx context.Context, max int64) ([]repository.PendingResult, error) {
	var out []repository.PendingResult
	for _, e := range q.log.take(q.group, max) {
		res, err := stream.DecodeResult(e)
		if err != nil {
			return nil, err
		}
		out = append(out, repository.PendingResult{EntryID: e.ID, Result: res})
	}
	return out, nil
}

func (q *memoryResultQueue) Ack(ctx context.Context, ids ...string) error {
	q.log.ack(q.group, ids...)
	return nil
}

type memoryLister struct {
	websites []domain.Website
}

func (l *memoryLister) ListWebsites(ctx context.Context) ([]domain.Website, error) {
	return l.websites, nil
}

type pipelineTickStore struct {
	ticks []domain.Tick
}

func (s *pipelineTickStore) InsertTicksBatch(ctx context.Context, ticks []domain.Tick) (int, error) {
	s.ticks = append(s.ticks, ticks...)
	return len(ticks), nil
}

type pipelineStore struct {
	websites map[string]domain.Website
	upserted []domain.Tick
	analyses []domain.Analysis
}

func (s *pipelineStore) FindWebsite(ctx context.Context, id string) (*domain.Website, error) {
	w, ok := s.websites[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &w, nil
}

func (s *pipelineStore) ListRecentTicks(ctx context.Context, websiteID string, limit int) ([]domain.Tick, error) {
	return nil, nil
}

func (s *pipelineStore) UpsertEnrichedTick(ctx context.Context, tick domain.Tick) (string, error) {
	s.upserted = append(s.upserted, tick)
	return fmt.Sprintf("tick-%d", len(s.upserted)), nil
}

func (s *pipelineStore) InsertAnalysis(ctx context.Context, analysis domain.Analysis) error {
	s.analyses = append(s.analyses, analysis)
	return nil
}

// TestPipeline_CheckFlowsThroughEveryStage drives one cycle across all four
// stages over shared in-memory logs: enqueue, probe, persist, analyze. The
// entries cross stage boundaries through the production codec, so the two
// consumer groups see exactly what the worker encoded.
func TestPipeline_CheckFlowsThroughEveryStage(t *testing.T) {
	upSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx")
		w.WriteHeader(http.StatusOK)
	}))
	defer upSrv.Close()
	downSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer downSrv.Close()

	sites := []domain.Website{
		{ID: "site-up", URL: upSrv.URL, Name: "Up"},
		{ID: "site-down", URL: downSrv.URL, Name: "Down"},
	}

	checkLog := newMemoryLog()
	resultLog := newMemoryLog()
	checkQueue := &memoryCheckQueue{log: checkLog, group: "website-checkers"}

	// The producer enqueues one request per website on its immediate cycle.
	prod := producer.New(&memoryLister{websites: sites}, checkQueue, time.Hour, discardLogger())
	prodCtx, cancelProd := context.WithCancel(context.Background())
	cancelProd()
	require.NoError(t, prod.Run(prodCtx))
	require.Len(t, checkLog.entries, 2)

	// The worker probes both targets and publishes one result each.
	worker := checker.New(checkQueue, &memoryResultPublisher{log: resultLog},
		probe.New(probe.Config{Timeout: 2 * time.Second, Retries: 0, RetryDelay: 10 * time.Millisecond}),
		checker.Config{RegionID: "us-east-1"}, discardLogger(),
	)
	require.NoError(t, worker.Poll(context.Background()))
	require.Len(t, resultLog.entries, 2)
	assert.Len(t, checkLog.acked["website-checkers"], 2)

	// The ingester persists the whole batch and acks it.
	tickStore := &pipelineTickStore{}
	ing := ingest.New(&memoryResultQueue{log: resultLog, group: "status-processors"},
		tickStore, ingest.Config{}, discardLogger())
	require.NoError(t, ing.Poll(context.Background()))

	require.Len(t, tickStore.ticks, 2)
	byID := map[string]domain.Tick{}
	for _, tick := range tickStore.ticks {
		byID[tick.WebsiteID] = tick
	}
	up := byID["site-up"]
	assert.Equal(t, domain.StatusUp, up.Status)
	require.NotNil(t, up.HTTPStatusCode)
	assert.Equal(t, http.StatusOK, *up.HTTPStatusCode)
	assert.Equal(t, "us-east-1", up.RegionID)
	assert.Equal(t, "nginx", up.ResponseHeaders["Server"])
	assert.False(t, up.CheckedAt.IsZero())
	down := byID["site-down"]
	assert.Equal(t, domain.StatusDown, down.Status)
	require.NotNil(t, down.HTTPStatusCode)
	assert.Equal(t, http.StatusNotFound, *down.HTTPStatusCode)
	require.NotNil(t, down.ErrorKind)
	assert.Equal(t, domain.ErrKindHTTP, *down.ErrorKind)
	assert.Len(t, resultLog.acked["status-processors"], 2)

	// The analyzer reads the same results through its own group, analyzes
	// only the failure, and acks everything.
	store := &pipelineStore{websites: map[string]domain.Website{
		"site-up":   sites[0],
		"site-down": sites[1],
	}}
	an := analyzer.New(&memoryResultQueue{log: resultLog, group: "ai-analyzer"},
		store, analyzer.NewEngine(nil, discardLogger()), analyzer.Config{}, discardLogger())
	require.NoError(t, an.Poll(context.Background()))

	require.Len(t, store.upserted, 1)
	assert.Equal(t, "site-down", store.upserted[0].WebsiteID)
	require.Len(t, store.analyses, 1)
	got := store.analyses[0]
	assert.Equal(t, "tick-1", got.TickID)
	assert.Equal(t, domain.FailureFrontend, got.FailureType)
	assert.Equal(t, domain.SeverityMedium, got.Severity)
	assert.Equal(t, "fallback-rules", got.Model)
	assert.Len(t, resultLog.acked["ai-analyzer"], 2)
}
