package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/docmesh/docmesh-backend/internal/repos/testutil"
	"github.com/docmesh/docmesh-backend/internal/types"
)

func extractionJSON(entities []map[string]any, relations []map[string]any) map[string]any {
	es := make([]any, len(entities))
	for i, e := range entities {
		es[i] = e
	}
	rs := make([]any, len(relations))
	for i, r := range relations {
		rs[i] = r
	}
	return map[string]any{"entities": es, "relations": rs}
}

func TestExtractorScopesEntityIDs(t *testing.T) {
	llm := &fakeLLM{jsonFn: func(system, user, schemaName string) (map[string]any, error) {
		return extractionJSON(
			[]map[string]any{
				{"id": "e1", "text": "Pierre", "entity_type": "person"},
				{"id": "e2", "text": "Marie", "entity_type": "person"},
			},
			[]map[string]any{
				{"src": "e1", "tgt": "e2", "relation_type": types.RelationTeaches},
			},
		), nil
	}}
	ex := NewLLMExtractor(llm, testutil.Logger(t))

	got, err := ex.Extract(context.Background(), "chunk-abc-0", "Pierre taught Marie.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(got.Entities))
	}
	wantPierre := fmt.Sprintf("CHUNK_%s_ENTITY_0", "chunk-abc-0")
	wantMarie := fmt.Sprintf("CHUNK_%s_ENTITY_1", "chunk-abc-0")
	if got.Entities[0].ID != wantPierre || got.Entities[1].ID != wantMarie {
		t.Fatalf("entity ids = %s/%s, want chunk-scoped ids", got.Entities[0].ID, got.Entities[1].ID)
	}
	if got.Entities[0].ChunkIDs[0] != "chunk-abc-0" {
		t.Fatalf("entity backref = %v, want owning chunk", got.Entities[0].ChunkIDs)
	}
	if len(got.Relations) != 1 {
		t.Fatalf("relations = %d, want 1", len(got.Relations))
	}
	rel := got.Relations[0]
	if rel.SrcEntityID != wantPierre || rel.TgtEntityID != wantMarie || rel.RelationType != types.RelationTeaches {
		t.Fatalf("relation = %+v, want scoped TEACHES edge", rel)
	}
}

func TestExtractorRejectsUnknownRelationType(t *testing.T) {
	llm := &fakeLLM{jsonFn: func(system, user, schemaName string) (map[string]any, error) {
		return extractionJSON(
			[]map[string]any{
				{"id": "e1", "text": "A", "entity_type": "thing"},
				{"id": "e2", "text": "B", "entity_type": "thing"},
			},
			[]map[string]any{
				{"src": "e1", "tgt": "e2", "relation_type": "DESTROYED"},
			},
		), nil
	}}
	ex := NewLLMExtractor(llm, testutil.Logger(t))

	if _, err := ex.Extract(context.Background(), "chunk-abc-0", "A destroyed B."); err == nil {
		t.Fatal("relation type outside the closed set must be rejected")
	}
}

func TestExtractorRejectsDanglingRelation(t *testing.T) {
	llm := &fakeLLM{jsonFn: func(system, user, schemaName string) (map[string]any, error) {
		return extractionJSON(
			[]map[string]any{
				{"id": "e1", "text": "A", "entity_type": "thing"},
			},
			[]map[string]any{
				{"src": "e1", "tgt": "ghost", "relation_type": types.RelationRelatedTo},
			},
		), nil
	}}
	ex := NewLLMExtractor(llm, testutil.Logger(t))

	if _, err := ex.Extract(context.Background(), "chunk-abc-0", "text"); err == nil {
		t.Fatal("relation referencing an unknown entity must be rejected")
	}
}

func TestExtractorEmptyChunk(t *testing.T) {
	llm := &fakeLLM{}
	ex := NewLLMExtractor(llm, testutil.Logger(t))

	got, err := ex.Extract(context.Background(), "chunk-abc-0", "   ")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Entities) != 0 || len(got.Relations) != 0 {
		t.Fatalf("blank chunk produced %d/%d, want empty extraction", len(got.Entities), len(got.Relations))
	}
	if len(llm.jsonCalls) != 0 {
		t.Fatal("blank chunk must not call the model")
	}
}
