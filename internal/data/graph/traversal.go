package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/docmesh/docmesh-backend/internal/types"
)

// Subgraph traverses Document->Chunk->Entity edges for the given documents
// and returns the full entity subgraph with inter-entity relations restricted
// to that scope. This is a traversal, not a ranked search.
func (g *KnowledgeGraph) Subgraph(ctx context.Context, docIDs []uuid.UUID) (*types.Subgraph, error) {
	out := &types.Subgraph{Entities: []types.Entity{}, Relations: []types.Relation{}}
	if len(docIDs) == 0 {
		return out, nil
	}

	ids := make([]any, 0, len(docIDs))
	for _, id := range docIDs {
		ids = append(ids, id.String())
	}

	session := g.readSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (d:Document)-[:HAS_CHUNK]->(:Chunk)-[:HAS_ENTITY]->(e:Entity)
WHERE d.id IN $doc_ids
RETURN DISTINCT e.id AS id, e.text AS text, e.entity_type AS entity_type, e.chunks AS chunks
`, map[string]any{"doc_ids": ids})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			entity := types.Entity{}
			if v, ok := rec.Get("id"); ok {
				entity.ID, _ = v.(string)
			}
			if v, ok := rec.Get("text"); ok {
				entity.Text, _ = v.(string)
			}
			if v, ok := rec.Get("entity_type"); ok {
				entity.EntityType, _ = v.(string)
			}
			if v, ok := rec.Get("chunks"); ok {
				if list, ok := v.([]any); ok {
					for _, item := range list {
						if s, ok := item.(string); ok {
							entity.ChunkIDs = append(entity.ChunkIDs, s)
						}
					}
				}
			}
			if entity.ID != "" {
				out.Entities = append(out.Entities, entity)
			}
		}

		res, err = tx.Run(ctx, `
MATCH (d1:Document)-[:HAS_CHUNK]->(:Chunk)-[:HAS_ENTITY]->(src:Entity)
WHERE d1.id IN $doc_ids
MATCH (d2:Document)-[:HAS_CHUNK]->(:Chunk)-[:HAS_ENTITY]->(tgt:Entity)
WHERE d2.id IN $doc_ids
MATCH (src)-[r]->(tgt)
RETURN DISTINCT src.id AS src, type(r) AS rel, tgt.id AS tgt
`, map[string]any{"doc_ids": ids})
		if err != nil {
			return nil, err
		}
		records, err = res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			rel := types.Relation{}
			if v, ok := rec.Get("src"); ok {
				rel.SrcEntityID, _ = v.(string)
			}
			if v, ok := rec.Get("rel"); ok {
				rel.RelationType, _ = v.(string)
			}
			if v, ok := rec.Get("tgt"); ok {
				rel.TgtEntityID, _ = v.(string)
			}
			// Structural edges between entities (community membership is
			// entity->community, so only typed relations appear here).
			if rel.SrcEntityID != "" && rel.TgtEntityID != "" && types.IsRelationType(rel.RelationType) {
				out.Relations = append(out.Relations, rel)
			}
		}

		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
