package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/platform/milvusdb"
	"github.com/docmesh/docmesh-backend/internal/types"
	"github.com/docmesh/docmesh-backend/internal/utils"
)

// Fusion defaults: lexical overlap dominates, dense similarity breaks ties.
// A fused score below the threshold is noise and is cut.
const (
	DefaultDenseWeight    = 0.2
	DefaultSparseWeight   = 0.8
	DefaultScoreThreshold = 0.5
	DefaultSearchLimit    = 10
)

type SearchOptions struct {
	Limit        int
	DenseWeight  float64
	SparseWeight float64
	Threshold    float64
}

// RetrievalService answers queries over indexed chunks and the knowledge
// graph.
type RetrievalService interface {
	// Search embeds the query with the same embedder that indexed the
	// chunks, fuses dense and lexical candidates server-side and returns
	// hits at or above the score threshold, scoped to one creator.
	Search(ctx context.Context, creatorID uuid.UUID, query string, opts SearchOptions) ([]types.SearchHit, error)
	// Subgraph returns the full entity subgraph reachable from the given
	// documents' chunks.
	Subgraph(ctx context.Context, docIDs []uuid.UUID) (*types.Subgraph, error)
}

type retrievalService struct {
	log      *logger.Logger
	embedder Embedder
	vectors  VectorIndex
	graph    GraphStore

	denseWeight  float64
	sparseWeight float64
	threshold    float64
	limit        int
}

func NewRetrievalService(baseLog *logger.Logger, embedder Embedder, vectors VectorIndex, graph GraphStore) RetrievalService {
	return &retrievalService{
		log:          baseLog.With("service", "RetrievalService"),
		embedder:     embedder,
		vectors:      vectors,
		graph:        graph,
		denseWeight:  utils.GetEnvAsFloat("RETRIEVAL_DENSE_WEIGHT", DefaultDenseWeight, baseLog),
		sparseWeight: utils.GetEnvAsFloat("RETRIEVAL_SPARSE_WEIGHT", DefaultSparseWeight, baseLog),
		threshold:    utils.GetEnvAsFloat("RETRIEVAL_SCORE_THRESHOLD", DefaultScoreThreshold, baseLog),
		limit:        utils.GetEnvAsInt("RETRIEVAL_LIMIT", DefaultSearchLimit, baseLog),
	}
}

// resolveOptions fills unset option fields from the service defaults, which
// are themselves env-tunable per deployment.
func (s *retrievalService) resolveOptions(o SearchOptions) SearchOptions {
	if o.Limit <= 0 {
		o.Limit = s.limit
	}
	if o.DenseWeight == 0 && o.SparseWeight == 0 {
		o.DenseWeight = s.denseWeight
		o.SparseWeight = s.sparseWeight
	}
	if o.Threshold == 0 {
		o.Threshold = s.threshold
	}
	return o
}

func (s *retrievalService) Search(ctx context.Context, creatorID uuid.UUID, query string, opts SearchOptions) ([]types.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return []types.SearchHit{}, nil
	}
	if s.embedder == nil || s.vectors == nil {
		return nil, ErrMissingDefaults
	}
	opts = s.resolveOptions(opts)

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for one input", len(vectors))
	}

	filter := ""
	if creatorID != uuid.Nil {
		filter = fmt.Sprintf("creator_id == %q", creatorID.String())
	}

	hits, err := s.vectors.HybridSearch(ctx, vectors[0], query, opts.DenseWeight, opts.SparseWeight, opts.Limit, filter)
	if err != nil {
		return nil, err
	}
	return filterByThreshold(hits, opts.Threshold), nil
}

// filterByThreshold keeps hits scoring at or above the cutoff, preserving
// the fused ranking order.
func filterByThreshold(hits []milvusdb.Hit, threshold float64) []types.SearchHit {
	out := make([]types.SearchHit, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) < threshold {
			continue
		}
		out = append(out, types.SearchHit{
			ChunkID:   h.ID,
			Text:      h.Text,
			DocID:     h.DocID,
			CreatorID: h.CreatorID,
			Idx:       h.Idx,
			Score:     h.Score,
		})
	}
	return out
}

func (s *retrievalService) Subgraph(ctx context.Context, docIDs []uuid.UUID) (*types.Subgraph, error) {
	if s.graph == nil {
		return nil, ErrMissingDefaults
	}
	if len(docIDs) == 0 {
		return &types.Subgraph{Entities: []types.Entity{}, Relations: []types.Relation{}}, nil
	}
	return s.graph.Subgraph(ctx, docIDs)
}
