package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/data/graph"
	"github.com/docmesh/docmesh-backend/internal/types"
)

// RunGraph streams the document's chunks, extracts entities and relations
// per chunk and merges them into the knowledge graph. A chunk whose
// extraction fails is skipped but its Chunk node is still upserted, so the
// graph's chunk spine stays complete; the task only fails when every chunk
// failed. After the pass the document node, chunk-entity edges and the
// global maintenance jobs run.
func (s *pipelineService) RunGraph(ctx context.Context, docID uuid.UUID) error {
	return s.runStage(ctx, docID, types.StageGraph, func(ctx context.Context, doc *types.Document) (*stageResult, error) {
		log := s.log.With("stage", types.StageGraph, "document_id", doc.ID)
		stream := NewChunkStream(s.resolver, doc)

		var (
			chunkIDs      []string
			failedChunks  []string
			edges         []graph.ChunkEntityEdge
			entityCount   int
			relationCount int
		)

		for {
			chunk, ok, err := stream.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}

			ext, err := s.extractor.Extract(ctx, chunk.ID, chunk.Text)
			if err != nil {
				log.Warn("chunk extraction failed, skipping", "chunk_id", chunk.ID, "error", err)
				failedChunks = append(failedChunks, chunk.ID)
			} else {
				if len(ext.Entities) > 0 {
					if err := s.graph.UpsertEntities(ctx, ext.Entities); err != nil {
						return nil, fmt.Errorf("upsert entities for %s: %w", chunk.ID, err)
					}
					entityCount += len(ext.Entities)
					for _, ent := range ext.Entities {
						edges = append(edges, graph.ChunkEntityEdge{ChunkID: chunk.ID, EntityID: ent.ID})
					}
				}
				if len(ext.Relations) > 0 {
					if err := s.graph.UpsertRelations(ctx, ext.Relations); err != nil {
						return nil, fmt.Errorf("upsert relations for %s: %w", chunk.ID, err)
					}
					relationCount += len(ext.Relations)
				}
			}

			if err := s.graph.UpsertChunks(ctx, []types.Chunk{*chunk}); err != nil {
				return nil, fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
			}
			chunkIDs = append(chunkIDs, chunk.ID)
		}

		if len(chunkIDs) > 0 && len(failedChunks) == len(chunkIDs) {
			return nil, fmt.Errorf("extraction failed for all %d chunks", len(chunkIDs))
		}

		if err := s.graph.UpsertDocument(ctx, doc, chunkIDs); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}
		if len(edges) > 0 {
			if err := s.graph.UpsertChunkEntityEdges(ctx, edges); err != nil {
				return nil, fmt.Errorf("upsert chunk-entity edges: %w", err)
			}
		}

		// Global maintenance is best effort: the per-document graph is
		// already committed, a failed clustering pass only delays
		// community and degree annotations until the next run.
		if err := s.graph.RunCommunityDetection(ctx); err != nil {
			log.Warn("community detection failed", "error", err)
		}
		if err := s.graph.AnnotateDegrees(ctx); err != nil {
			log.Warn("degree annotation failed", "error", err)
		}

		output := map[string]any{
			"chunks":    len(chunkIDs),
			"entities":  entityCount,
			"relations": relationCount,
		}
		if len(failedChunks) > 0 {
			output["failed_chunks"] = failedChunks
		}
		return &stageResult{output: output}, nil
	})
}
