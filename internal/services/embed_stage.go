package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/platform/milvusdb"
	"github.com/docmesh/docmesh-backend/internal/types"
)

// RunEmbed streams the document's chunks, embeds them in fixed-size batches
// and upserts each batch into the vector index: one embed call and one
// upsert per full batch, plus one pair for a non-empty tail.
func (s *pipelineService) RunEmbed(ctx context.Context, docID uuid.UUID) error {
	return s.runStage(ctx, docID, types.StageEmbed, func(ctx context.Context, doc *types.Document) (*stageResult, error) {
		stream := NewChunkStream(s.resolver, doc)

		batch := make([]*types.Chunk, 0, s.embedBatchSize)
		chunkCount := 0
		batchCount := 0

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			texts := make([]string, len(batch))
			for i, ch := range batch {
				texts[i] = ch.Text
			}
			vectors, err := s.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch of %d: %w", len(batch), err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vectors), len(batch))
			}
			rows := make([]milvusdb.ChunkRow, len(batch))
			for i, ch := range batch {
				rows[i] = milvusdb.ChunkRow{
					ID:        ch.ID,
					Text:      ch.Text,
					DocID:     ch.DocID.String(),
					CreatorID: doc.CreatorID.String(),
					Idx:       int64(ch.Idx),
					Embedding: vectors[i],
				}
			}
			if err := s.vectors.Upsert(ctx, rows); err != nil {
				return fmt.Errorf("index batch of %d: %w", len(rows), err)
			}
			batchCount++
			batch = batch[:0]
			return nil
		}

		for {
			chunk, ok, err := stream.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			batch = append(batch, chunk)
			chunkCount++
			if len(batch) == s.embedBatchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
		if err := flush(); err != nil {
			return nil, err
		}

		return &stageResult{output: map[string]any{
			"chunks":  chunkCount,
			"batches": batchCount,
		}}, nil
	})
}
