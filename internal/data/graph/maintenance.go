package graph

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Community detection and degree annotation are whole-graph batch jobs: every
// extraction run of any document re-triggers them. They rewrite the same
// derived annotations, so two concurrent runs would race; maintenanceMu
// serializes them process-wide.
var maintenanceMu sync.Mutex

const entityProjection = "docmesh_entities"

// RunCommunityDetection clusters the entity graph with GDS Louvain and
// materializes one Community node per cluster, replacing the previous
// membership edges. It is a global recomputation, safe to re-run at any time.
func (g *KnowledgeGraph) RunCommunityDetection(ctx context.Context) error {
	maintenanceMu.Lock()
	defer maintenanceMu.Unlock()

	session := g.writeSession(ctx)
	defer session.Close(ctx)

	// Drop a stale projection from an interrupted earlier run.
	if res, err := session.Run(ctx,
		`CALL gds.graph.drop($name, false) YIELD graphName RETURN graphName`,
		map[string]any{"name": entityProjection}); err == nil {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`CALL gds.graph.project($name, 'Entity', '*') YIELD graphName RETURN graphName`,
			map[string]any{"name": entityProjection})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx,
			`CALL gds.louvain.write($name, {writeProperty: 'community_id'}) YIELD communityCount RETURN communityCount`,
			map[string]any{"name": entityProjection})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	// Rebuild Community nodes and membership from the written property.
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range []string{
			`MATCH (:Entity)-[r:IN_COMMUNITY]->(:Community) DELETE r`,
			`MATCH (c:Community) WHERE NOT (c)<-[:IN_COMMUNITY]-() DETACH DELETE c`,
			`
MATCH (e:Entity) WHERE e.community_id IS NOT NULL
WITH e.community_id AS cid, collect(e) AS members
MERGE (c:Community {id: 'community-' + toString(cid)})
SET c.size = size(members)
WITH c, members
UNWIND members AS m
MERGE (m)-[:IN_COMMUNITY]->(c)
`,
			`MATCH (c:Community) WHERE NOT (c)<-[:IN_COMMUNITY]-() DETACH DELETE c`,
		} {
			res, err := tx.Run(ctx, q, nil)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	if res, dropErr := session.Run(ctx,
		`CALL gds.graph.drop($name, false) YIELD graphName RETURN graphName`,
		map[string]any{"name": entityProjection}); dropErr != nil {
		g.log.Warn("failed to drop entity projection (continuing)", "error", dropErr)
	} else {
		_, _ = res.Consume(ctx)
	}

	return nil
}

// AnnotateDegrees recomputes the undirected degree of every Chunk, Entity
// and Community node.
func (g *KnowledgeGraph) AnnotateDegrees(ctx context.Context) error {
	maintenanceMu.Lock()
	defer maintenanceMu.Unlock()

	session := g.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n)
WHERE n:Chunk OR n:Entity OR n:Community
SET n.degree = COUNT { (n)--() }
`, nil)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}
