package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/types"
)

const chunkSummarySystemPrompt = `Summarize the passage in a few sentences.
Keep concrete names, places and claims; drop filler. Output only the summary.`

const reduceSystemPrompt = `You maintain a running summary of a document while
its chunks are folded in one at a time. Given the current running state, a new
chunk's summary and the entities and relations found in that chunk, produce an
updated title, a one-to-two sentence description and an updated full summary
that subsumes everything seen so far. Never drop information that earlier
chunks established.`

var reduceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":       map[string]any{"type": "string"},
		"description": map[string]any{"type": "string"},
		"summary":     map[string]any{"type": "string"},
	},
	"required":             []string{"title", "description", "summary"},
	"additionalProperties": false,
}

type reduceState struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
}

// RunSummarize folds the document's chunks into one running summary. The
// fold is strictly sequential: each step sees the running state, the new
// chunk's local summary and that chunk's extracted entities and relations.
// Any failed step fails the task and discards the partial state; only a
// complete fold overwrites the document's title and description.
func (s *pipelineService) RunSummarize(ctx context.Context, docID uuid.UUID) error {
	return s.runStage(ctx, docID, types.StageSummarize, func(ctx context.Context, doc *types.Document) (*stageResult, error) {
		log := s.log.With("stage", types.StageSummarize, "document_id", doc.ID)
		stream := NewChunkStream(s.resolver, doc)

		var state reduceState
		chunkCount := 0

		for {
			chunk, ok, err := stream.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}

			local, err := s.llm.GenerateText(ctx, chunkSummarySystemPrompt, chunk.Text)
			if err != nil {
				return nil, fmt.Errorf("summarize chunk %s: %w", chunk.ID, err)
			}

			// Entities and relations enrich the fold but are auxiliary;
			// a failed extraction here degrades to an empty list rather
			// than failing the summary.
			ext := &types.Extraction{}
			if s.extractor != nil {
				if e, extErr := s.extractor.Extract(ctx, chunk.ID, chunk.Text); extErr != nil {
					log.Warn("extraction during summarize failed", "chunk_id", chunk.ID, "error", extErr)
				} else {
					ext = e
				}
			}

			state, err = s.reduce(ctx, state, local, ext)
			if err != nil {
				return nil, fmt.Errorf("reduce chunk %s: %w", chunk.ID, err)
			}
			chunkCount++
		}

		if chunkCount == 0 {
			return nil, fmt.Errorf("document has no content to summarize")
		}

		if err := s.docs.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{
			"title":       state.Title,
			"description": state.Description,
		}); err != nil {
			return nil, fmt.Errorf("update document metadata: %w", err)
		}

		return &stageResult{
			title:       state.Title,
			description: state.Description,
			summary:     state.Summary,
			output:      map[string]any{"chunks": chunkCount},
		}, nil
	})
}

func (s *pipelineService) reduce(ctx context.Context, state reduceState, chunkSummary string, ext *types.Extraction) (reduceState, error) {
	payload := map[string]any{
		"running_title":       state.Title,
		"running_description": state.Description,
		"running_summary":     state.Summary,
		"new_chunk_summary":   chunkSummary,
		"new_entities":        ext.Entities,
		"new_relations":       ext.Relations,
	}
	user, err := json.Marshal(payload)
	if err != nil {
		return reduceState{}, fmt.Errorf("encode reduce input: %w", err)
	}

	out, err := s.llm.GenerateJSON(ctx, reduceSystemPrompt, string(user), "summary_reduce", reduceSchema)
	if err != nil {
		return reduceState{}, err
	}
	blob, err := json.Marshal(out)
	if err != nil {
		return reduceState{}, fmt.Errorf("re-encode reduce output: %w", err)
	}
	var next reduceState
	if err := json.Unmarshal(blob, &next); err != nil {
		return reduceState{}, fmt.Errorf("malformed reduce output: %w", err)
	}
	if next.Summary == "" {
		return reduceState{}, fmt.Errorf("reduce produced empty summary")
	}
	return next, nil
}
