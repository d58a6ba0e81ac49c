package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/types"
)

// tagInputMaxChars bounds how much of the document the tagging prompt sees.
// Tags are broad topical labels; the head of the document is enough.
const tagInputMaxChars = 6000

const tagSystemPrompt = `Assign between three and eight short topical tags to
the document text. Tags are lowercase, one to three words, no duplicates.`

var tagSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tags": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required":             []string{"tags"},
	"additionalProperties": false,
}

// RunTag derives topical tags for the document in a single structured call.
func (s *pipelineService) RunTag(ctx context.Context, docID uuid.UUID) error {
	return s.runStage(ctx, docID, types.StageTag, func(ctx context.Context, doc *types.Document) (*stageResult, error) {
		text, err := s.resolver.Resolve(ctx, doc)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("document has no content to tag")
		}
		runes := []rune(text)
		if len(runes) > tagInputMaxChars {
			text = string(runes[:tagInputMaxChars])
		}

		out, err := s.llm.GenerateJSON(ctx, tagSystemPrompt, text, "document_tags", tagSchema)
		if err != nil {
			return nil, fmt.Errorf("generate tags: %w", err)
		}
		blob, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("re-encode tags: %w", err)
		}
		var parsed struct {
			Tags []string `json:"tags"`
		}
		if err := json.Unmarshal(blob, &parsed); err != nil {
			return nil, fmt.Errorf("malformed tag output: %w", err)
		}

		seen := map[string]bool{}
		tags := make([]string, 0, len(parsed.Tags))
		for _, t := range parsed.Tags {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			tags = append(tags, t)
		}
		if len(tags) == 0 {
			return nil, fmt.Errorf("tagging produced no tags")
		}

		return &stageResult{output: map[string]any{"tags": tags}}, nil
	})
}
