package services

import (
	"context"

	"github.com/docmesh/docmesh-backend/internal/platform/milvusdb"
)

type milvusVectorIndex struct {
	client     *milvusdb.Client
	collection string
}

// NewMilvusVectorIndex binds a milvus client to a single collection so
// callers never carry the collection name around.
func NewMilvusVectorIndex(client *milvusdb.Client, collection string) VectorIndex {
	return &milvusVectorIndex{client: client, collection: collection}
}

func (m *milvusVectorIndex) Upsert(ctx context.Context, rows []milvusdb.ChunkRow) error {
	return m.client.Upsert(ctx, m.collection, rows)
}

func (m *milvusVectorIndex) HybridSearch(
	ctx context.Context,
	denseQuery []float32,
	textQuery string,
	denseWeight, sparseWeight float64,
	limit int,
	filterExpr string,
) ([]milvusdb.Hit, error) {
	return m.client.HybridSearch(ctx, m.collection, denseQuery, textQuery, denseWeight, sparseWeight, limit, filterExpr)
}
