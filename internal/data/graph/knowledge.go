package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/platform/neo4jdb"
	"github.com/docmesh/docmesh-backend/internal/types"
)

// KnowledgeGraph is the neo4j-backed graph store for Document, Chunk, Entity
// and Community nodes. Every write is an idempotent MERGE keyed by id, so
// re-running any pipeline stage converges to the same graph state.
type KnowledgeGraph struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewKnowledgeGraph(client *neo4jdb.Client, baseLog *logger.Logger) *KnowledgeGraph {
	return &KnowledgeGraph{client: client, log: baseLog.With("store", "KnowledgeGraph")}
}

type ChunkEntityEdge struct {
	ChunkID  string
	EntityID string
}

func (g *KnowledgeGraph) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.client.Database,
	})
}

func (g *KnowledgeGraph) readSession(ctx context.Context) neo4j.SessionWithContext {
	return g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.client.Database,
	})
}

// EnsureSchema installs uniqueness constraints. Failures are logged and
// swallowed; MERGE semantics stay correct without them.
func (g *KnowledgeGraph) EnsureSchema(ctx context.Context) {
	session := g.writeSession(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT community_id_unique IF NOT EXISTS FOR (c:Community) REQUIRE c.id IS UNIQUE`,
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			g.log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func (g *KnowledgeGraph) UpsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"id":        c.ID,
			"doc_id":    c.DocID.String(),
			"idx":       c.Idx,
			"text":      truncateString(c.Text, 4000),
			"synced_at": now,
		})
	}

	session := g.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (c:Chunk {id: row.id})
SET c += row
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// UpsertEntities merges by scoped entity id; chunk back-references accumulate
// across calls instead of being overwritten.
func (g *KnowledgeGraph) UpsertEntities(ctx context.Context, entities []types.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		chunks := make([]any, 0, len(e.ChunkIDs))
		for _, id := range e.ChunkIDs {
			chunks = append(chunks, id)
		}
		rows = append(rows, map[string]any{
			"id":          e.ID,
			"text":        e.Text,
			"entity_type": e.EntityType,
			"chunks":      chunks,
			"synced_at":   now,
		})
	}

	session := g.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (e:Entity {id: row.id})
ON CREATE SET e.chunks = row.chunks
ON MATCH SET e.chunks = [c IN coalesce(e.chunks, []) WHERE NOT c IN row.chunks] + row.chunks
SET e.text = row.text,
    e.entity_type = row.entity_type,
    e.synced_at = row.synced_at
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// UpsertRelations merges directed edges by (src, type, tgt). The relation
// type is interpolated into the Cypher text, so only types from the closed
// enumeration are accepted.
func (g *KnowledgeGraph) UpsertRelations(ctx context.Context, relations []types.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	byType := map[string][]map[string]any{}
	for _, r := range relations {
		if r.SrcEntityID == "" || r.TgtEntityID == "" {
			continue
		}
		if !types.IsRelationType(r.RelationType) {
			return fmt.Errorf("graph: unknown relation type %q", r.RelationType)
		}
		byType[r.RelationType] = append(byType[r.RelationType], map[string]any{
			"src":       r.SrcEntityID,
			"tgt":       r.TgtEntityID,
			"synced_at": now,
		})
	}

	session := g.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for relType, rows := range byType {
			q := fmt.Sprintf(`
UNWIND $rows AS row
MERGE (src:Entity {id: row.src})
MERGE (tgt:Entity {id: row.tgt})
MERGE (src)-[r:%s]->(tgt)
SET r.synced_at = row.synced_at
`, relType)
			res, err := tx.Run(ctx, q, map[string]any{"rows": rows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// UpsertDocument anchors the document node and its HAS_CHUNK edges.
func (g *KnowledgeGraph) UpsertDocument(ctx context.Context, doc *types.Document, chunkIDs []string) error {
	if doc == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	ids := make([]any, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, id)
	}

	session := g.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (d:Document {id: $id})
SET d.creator_id = $creator_id,
    d.title = $title,
    d.category = $category,
    d.synced_at = $synced_at
WITH d
UNWIND $chunk_ids AS cid
MERGE (c:Chunk {id: cid})
MERGE (d)-[:HAS_CHUNK]->(c)
`, map[string]any{
			"id":         doc.ID.String(),
			"creator_id": doc.CreatorID.String(),
			"title":      doc.Title,
			"category":   doc.Category,
			"synced_at":  now,
			"chunk_ids":  ids,
		})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

func (g *KnowledgeGraph) UpsertChunkEntityEdges(ctx context.Context, edges []ChunkEntityEdge) error {
	if len(edges) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		if e.ChunkID == "" || e.EntityID == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"chunk_id":  e.ChunkID,
			"entity_id": e.EntityID,
			"synced_at": now,
		})
	}

	session := g.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (c:Chunk {id: row.chunk_id})
MERGE (e:Entity {id: row.entity_id})
MERGE (c)-[r:HAS_ENTITY]->(e)
SET r.synced_at = row.synced_at
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
