package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/types"
)

const extractionSystemPrompt = `You extract a knowledge graph from one passage of a document.
Identify the distinct named entities in the passage and the relations between them.
Give each entity a short local id (e1, e2, ...) unique within this response.
Only emit relations whose relation_type is one of the allowed values, and whose
src and tgt reference entity ids from this same response. Do not invent entities
that are not grounded in the passage.`

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          map[string]any{"type": "string"},
					"text":        map[string]any{"type": "string"},
					"entity_type": map[string]any{"type": "string"},
				},
				"required":             []string{"id", "text", "entity_type"},
				"additionalProperties": false,
			},
		},
		"relations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"src": map[string]any{"type": "string"},
					"tgt": map[string]any{"type": "string"},
					"relation_type": map[string]any{
						"type": "string",
						"enum": []string{
							types.RelationMentions,
							types.RelationLocatedIn,
							types.RelationPartOf,
							types.RelationFoundedBy,
							types.RelationRelatedTo,
							types.RelationTeaches,
							types.RelationLivedIn,
						},
					},
				},
				"required":             []string{"src", "tgt", "relation_type"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"entities", "relations"},
	"additionalProperties": false,
}

type llmExtractor struct {
	llm LLM
	log *logger.Logger
}

func NewLLMExtractor(llm LLM, baseLog *logger.Logger) Extractor {
	return &llmExtractor{llm: llm, log: baseLog.With("service", "extractor")}
}

type rawExtraction struct {
	Entities []struct {
		ID         string `json:"id"`
		Text       string `json:"text"`
		EntityType string `json:"entity_type"`
	} `json:"entities"`
	Relations []struct {
		Src          string `json:"src"`
		Tgt          string `json:"tgt"`
		RelationType string `json:"relation_type"`
	} `json:"relations"`
}

// Extract runs one structured-output call for a chunk and rewrites the
// model's local entity ids into chunk-scoped ids so extractions from
// different chunks can never collide before the graph merge.
func (e *llmExtractor) Extract(ctx context.Context, chunkID string, text string) (*types.Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return &types.Extraction{Entities: []types.Entity{}, Relations: []types.Relation{}}, nil
	}

	out, err := e.llm.GenerateJSON(ctx, extractionSystemPrompt, text, "chunk_extraction", extractionSchema)
	if err != nil {
		return nil, fmt.Errorf("extract chunk %s: %w", chunkID, err)
	}

	blob, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("extract chunk %s: re-encode: %w", chunkID, err)
	}
	var raw rawExtraction
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("extract chunk %s: malformed output: %w", chunkID, err)
	}

	scoped := make(map[string]string, len(raw.Entities))
	ext := &types.Extraction{
		Entities:  make([]types.Entity, 0, len(raw.Entities)),
		Relations: make([]types.Relation, 0, len(raw.Relations)),
	}
	for i, ent := range raw.Entities {
		if strings.TrimSpace(ent.Text) == "" {
			return nil, fmt.Errorf("extract chunk %s: entity %d has empty text", chunkID, i)
		}
		if ent.ID == "" {
			return nil, fmt.Errorf("extract chunk %s: entity %d has empty id", chunkID, i)
		}
		if _, dup := scoped[ent.ID]; dup {
			return nil, fmt.Errorf("extract chunk %s: duplicate entity id %q", chunkID, ent.ID)
		}
		id := fmt.Sprintf("CHUNK_%s_ENTITY_%d", chunkID, i)
		scoped[ent.ID] = id
		ext.Entities = append(ext.Entities, types.Entity{
			ID:         id,
			Text:       ent.Text,
			EntityType: ent.EntityType,
			ChunkIDs:   []string{chunkID},
		})
	}
	for _, rel := range raw.Relations {
		if !types.IsRelationType(rel.RelationType) {
			return nil, fmt.Errorf("extract chunk %s: unknown relation type %q", chunkID, rel.RelationType)
		}
		src, ok := scoped[rel.Src]
		if !ok {
			return nil, fmt.Errorf("extract chunk %s: relation references unknown entity %q", chunkID, rel.Src)
		}
		tgt, ok := scoped[rel.Tgt]
		if !ok {
			return nil, fmt.Errorf("extract chunk %s: relation references unknown entity %q", chunkID, rel.Tgt)
		}
		ext.Relations = append(ext.Relations, types.Relation{
			SrcEntityID:  src,
			TgtEntityID:  tgt,
			RelationType: rel.RelationType,
		})
	}
	return ext, nil
}
