package milvusdb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
)

// Client wraps the Milvus SDK client for the chunk collection. The collection
// carries both a dense embedding field and a server-side BM25 sparse field
// derived from the chunk text, so hybrid dense+lexical search runs in one
// round trip.
type Client struct {
	client *milvusclient.Client
	log    *logger.Logger
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("milvusdb: logger required")
	}
	addr := strings.TrimSpace(os.Getenv("MILVUS_ADDRESS"))
	if addr == "" {
		return nil, fmt.Errorf("milvusdb: missing MILVUS_ADDRESS")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  addr,
		Username: strings.TrimSpace(os.Getenv("MILVUS_USERNAME")),
		Password: strings.TrimSpace(os.Getenv("MILVUS_PASSWORD")),
		DBName:   strings.TrimSpace(os.Getenv("MILVUS_DATABASE")),
	})
	if err != nil {
		return nil, fmt.Errorf("milvusdb: connect: %w", err)
	}

	return &Client{client: c, log: log.With("client", "MilvusDB")}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close(ctx)
}

// ChunkRow is one vector-index row; id is the deterministic chunk id so
// repeated upserts overwrite instead of duplicating.
type ChunkRow struct {
	ID        string
	Text      string
	DocID     string
	CreatorID string
	Idx       int64
	Embedding []float32
}

// Hit is one fused result from HybridSearch.
type Hit struct {
	ID        string
	Text      string
	DocID     string
	CreatorID string
	Idx       int64
	Score     float32
}

// EnsureCollection creates and loads the chunk collection if absent.
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("milvusdb: check collection: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(name).
			WithDescription("document chunks with dense and BM25 sparse vectors")
		schema.WithField(
			entity.NewField().
				WithName("id").
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(128).
				WithIsPrimaryKey(true),
		)
		schema.WithField(
			entity.NewField().
				WithName("text").
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(65535).
				WithEnableAnalyzer(true),
		)
		schema.WithField(
			entity.NewField().
				WithName("doc_id").
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64),
		)
		schema.WithField(
			entity.NewField().
				WithName("creator_id").
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64),
		)
		schema.WithField(
			entity.NewField().
				WithName("idx").
				WithDataType(entity.FieldTypeInt64),
		)
		schema.WithField(
			entity.NewField().
				WithName("embedding").
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(dim)),
		)
		schema.WithField(
			entity.NewField().
				WithName("sparse").
				WithDataType(entity.FieldTypeSparseVector),
		)
		schema.WithFunction(
			entity.NewFunction().
				WithName("text_bm25").
				WithType(entity.FunctionTypeBM25).
				WithInputFields("text").
				WithOutputFields("sparse"),
		)

		if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
			return fmt.Errorf("milvusdb: create collection: %w", err)
		}

		denseIdx := index.NewHNSWIndex(entity.IP, 16, 200)
		task, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, "embedding", denseIdx))
		if err != nil {
			return fmt.Errorf("milvusdb: create dense index: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("milvusdb: wait dense index: %w", err)
		}

		sparseIdx := index.NewSparseInvertedIndex(entity.BM25, 0.2)
		task, err = c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, "sparse", sparseIdx))
		if err != nil {
			return fmt.Errorf("milvusdb: create sparse index: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("milvusdb: wait sparse index: %w", err)
		}
	}

	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("milvusdb: load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("milvusdb: wait collection load: %w", err)
	}
	return nil
}

// Upsert writes rows by deterministic id. The sparse field is computed
// server-side from text by the BM25 function and must not be supplied.
func (c *Client) Upsert(ctx context.Context, collection string, rows []ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}

	ids := make([]string, len(rows))
	texts := make([]string, len(rows))
	docIDs := make([]string, len(rows))
	creatorIDs := make([]string, len(rows))
	idxs := make([]int64, len(rows))
	embeddings := make([][]float32, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		texts[i] = r.Text
		docIDs[i] = r.DocID
		creatorIDs[i] = r.CreatorID
		idxs[i] = r.Idx
		embeddings[i] = r.Embedding
	}

	cols := []column.Column{
		column.NewColumnVarChar("id", ids),
		column.NewColumnVarChar("text", texts),
		column.NewColumnVarChar("doc_id", docIDs),
		column.NewColumnVarChar("creator_id", creatorIDs),
		column.NewColumnInt64("idx", idxs),
		column.NewColumnFloatVector("embedding", len(embeddings[0]), embeddings),
	}

	if _, err := c.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(collection, cols...)); err != nil {
		return fmt.Errorf("milvusdb: upsert: %w", err)
	}
	return nil
}

// HybridSearch issues one dense and one sparse candidate search and fuses
// them server-side with a weighted reranker. filterExpr may be empty.
func (c *Client) HybridSearch(
	ctx context.Context,
	collection string,
	denseQuery []float32,
	textQuery string,
	denseWeight, sparseWeight float64,
	limit int,
	filterExpr string,
) ([]Hit, error) {
	denseReq := milvusclient.NewAnnRequest("embedding", limit, entity.FloatVector(denseQuery))
	sparseReq := milvusclient.NewAnnRequest("sparse", limit, entity.Text(textQuery))
	if filterExpr != "" {
		denseReq = denseReq.WithFilter(filterExpr)
		sparseReq = sparseReq.WithFilter(filterExpr)
	}

	opt := milvusclient.NewHybridSearchOption(collection, limit, denseReq, sparseReq).
		WithReranker(milvusclient.NewWeightedReranker([]float64{denseWeight, sparseWeight})).
		WithOutputFields("text", "doc_id", "creator_id", "idx")

	results, err := c.client.HybridSearch(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("milvusdb: hybrid search: %w", err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	res := results[0]
	hits := make([]Hit, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		hit := Hit{Score: res.Scores[i]}
		if idCol, ok := res.IDs.(*column.ColumnVarChar); ok {
			hit.ID = idCol.Data()[i]
		}
		for _, field := range res.Fields {
			switch col := field.(type) {
			case *column.ColumnVarChar:
				switch col.Name() {
				case "text":
					hit.Text = col.Data()[i]
				case "doc_id":
					hit.DocID = col.Data()[i]
				case "creator_id":
					hit.CreatorID = col.Data()[i]
				}
			case *column.ColumnInt64:
				if col.Name() == "idx" {
					hit.Idx = col.Data()[i]
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
