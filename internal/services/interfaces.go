package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/data/graph"
	"github.com/docmesh/docmesh-backend/internal/platform/milvusdb"
	"github.com/docmesh/docmesh-backend/internal/types"
)

// Embedder maps a batch of texts to dense vectors, order preserving, empty
// in means empty out. The same instance must serve both index-time and
// query-time embedding so distances stay comparable.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// LLM is the narrow text/structured-output contract stages depend on.
type LLM interface {
	GenerateText(ctx context.Context, system string, user string) (string, error)
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

// SpeechClient covers the audio boundaries used by the transcribe and
// podcast stages.
type SpeechClient interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
	Speak(ctx context.Context, voice string, input string) ([]byte, error)
}

// Extractor turns one chunk's text into entities and typed relations under
// the strict-JSON contract. Malformed model output is a hard error, never a
// silent empty result.
type Extractor interface {
	Extract(ctx context.Context, chunkID string, text string) (*types.Extraction, error)
}

// VectorIndex is the hybrid dense+sparse chunk index.
type VectorIndex interface {
	Upsert(ctx context.Context, rows []milvusdb.ChunkRow) error
	HybridSearch(ctx context.Context, denseQuery []float32, textQuery string, denseWeight, sparseWeight float64, limit int, filterExpr string) ([]milvusdb.Hit, error)
}

// GraphStore is the idempotent knowledge-graph contract.
type GraphStore interface {
	UpsertChunks(ctx context.Context, chunks []types.Chunk) error
	UpsertEntities(ctx context.Context, entities []types.Entity) error
	UpsertRelations(ctx context.Context, relations []types.Relation) error
	UpsertDocument(ctx context.Context, doc *types.Document, chunkIDs []string) error
	UpsertChunkEntityEdges(ctx context.Context, edges []graph.ChunkEntityEdge) error
	RunCommunityDetection(ctx context.Context) error
	AnnotateDegrees(ctx context.Context) error
	Subgraph(ctx context.Context, docIDs []uuid.UUID) (*types.Subgraph, error)
}
