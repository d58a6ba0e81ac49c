package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/data/graph"
	"github.com/docmesh/docmesh-backend/internal/platform/milvusdb"
	"github.com/docmesh/docmesh-backend/internal/types"
)

type fakeResolver struct {
	text string
	err  error
}

func (r *fakeResolver) Resolve(ctx context.Context, doc *types.Document) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.text, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %q", key)
	}
	return data, nil
}

func (s *fakeStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return key, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (e *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.calls = append(e.calls, append([]string(nil), inputs...))
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(len(inputs[i])), 1}
	}
	return out, nil
}

type fakeVectorIndex struct {
	mu          sync.Mutex
	upserts     [][]milvusdb.ChunkRow
	hits        []milvusdb.Hit
	lastDenseW  float64
	lastSparseW float64
	lastFilter  string
	err         error
}

func (v *fakeVectorIndex) Upsert(ctx context.Context, rows []milvusdb.ChunkRow) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	v.upserts = append(v.upserts, append([]milvusdb.ChunkRow(nil), rows...))
	return nil
}

func (v *fakeVectorIndex) HybridSearch(ctx context.Context, denseQuery []float32, textQuery string, denseWeight, sparseWeight float64, limit int, filterExpr string) ([]milvusdb.Hit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	v.lastDenseW, v.lastSparseW, v.lastFilter = denseWeight, sparseWeight, filterExpr
	return v.hits, nil
}

func (v *fakeVectorIndex) allRows() []milvusdb.ChunkRow {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []milvusdb.ChunkRow
	for _, batch := range v.upserts {
		out = append(out, batch...)
	}
	return out
}

// fakeLLM answers GenerateText with textFn and GenerateJSON with jsonFn,
// recording call order.
type fakeLLM struct {
	mu        sync.Mutex
	textCalls []string
	jsonCalls []string
	textFn    func(system, user string) (string, error)
	jsonFn    func(system, user, schemaName string) (map[string]any, error)
}

func (l *fakeLLM) GenerateText(ctx context.Context, system, user string) (string, error) {
	l.mu.Lock()
	l.textCalls = append(l.textCalls, user)
	l.mu.Unlock()
	if l.textFn != nil {
		return l.textFn(system, user)
	}
	return "summary of: " + user, nil
}

func (l *fakeLLM) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	l.mu.Lock()
	l.jsonCalls = append(l.jsonCalls, user)
	l.mu.Unlock()
	if l.jsonFn != nil {
		return l.jsonFn(system, user, schemaName)
	}
	return map[string]any{}, nil
}

type fakeSpeech struct {
	transcript string
	audio      []byte
	err        error
}

func (s *fakeSpeech) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.transcript, nil
}

func (s *fakeSpeech) Speak(ctx context.Context, voice, input string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.audio, nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	byChunk map[string]*types.Extraction
	errFor  map[string]error
	calls   []string
}

func (e *fakeExtractor) Extract(ctx context.Context, chunkID, text string) (*types.Extraction, error) {
	e.mu.Lock()
	e.calls = append(e.calls, chunkID)
	e.mu.Unlock()
	if err, ok := e.errFor[chunkID]; ok {
		return nil, err
	}
	if ext, ok := e.byChunk[chunkID]; ok {
		return ext, nil
	}
	return &types.Extraction{Entities: []types.Entity{}, Relations: []types.Relation{}}, nil
}

// fakeGraph records every upsert and serves them back for assertions.
type fakeGraph struct {
	mu            sync.Mutex
	chunks        []types.Chunk
	entities      []types.Entity
	relations     []types.Relation
	edges         []graph.ChunkEntityEdge
	docs          []uuid.UUID
	communityRuns int
	degreeRuns    int
	communityErr  error
	subgraph      *types.Subgraph
}

func (g *fakeGraph) UpsertChunks(ctx context.Context, chunks []types.Chunk) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chunks = append(g.chunks, chunks...)
	return nil
}

func (g *fakeGraph) UpsertEntities(ctx context.Context, entities []types.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities = append(g.entities, entities...)
	return nil
}

func (g *fakeGraph) UpsertRelations(ctx context.Context, relations []types.Relation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relations = append(g.relations, relations...)
	return nil
}

func (g *fakeGraph) UpsertDocument(ctx context.Context, doc *types.Document, chunkIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.docs = append(g.docs, doc.ID)
	return nil
}

func (g *fakeGraph) UpsertChunkEntityEdges(ctx context.Context, edges []graph.ChunkEntityEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, edges...)
	return nil
}

func (g *fakeGraph) RunCommunityDetection(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.communityRuns++
	return g.communityErr
}

func (g *fakeGraph) AnnotateDegrees(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.degreeRuns++
	return nil
}

func (g *fakeGraph) Subgraph(ctx context.Context, docIDs []uuid.UUID) (*types.Subgraph, error) {
	if g.subgraph != nil {
		return g.subgraph, nil
	}
	return &types.Subgraph{Entities: []types.Entity{}, Relations: []types.Relation{}}, nil
}

type notifierCall struct {
	event string
	stage string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifierCall
}

func (n *fakeNotifier) TaskSucceeded(ctx context.Context, doc *types.Document, task *types.TaskRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifierCall{event: "success", stage: task.Stage})
}

func (n *fakeNotifier) TaskFailed(ctx context.Context, doc *types.Document, task *types.TaskRun, cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifierCall{event: "failed", stage: task.Stage})
}
