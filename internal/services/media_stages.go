package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/types"
)

const podcastScriptSystemPrompt = `Write a short single-narrator podcast script
presenting the document below. Conversational tone, two to four minutes when
read aloud, no stage directions or headings. Output only the words to speak.`

// podcastInputMaxChars bounds the script prompt. Summaries fit easily; raw
// content is truncated.
const podcastInputMaxChars = 8000

// RunTranscribe reads the document's audio object, transcribes it and stores
// the transcript inline on the document record, unblocking the text stages
// for audio documents.
func (s *pipelineService) RunTranscribe(ctx context.Context, docID uuid.UUID) error {
	return s.runStage(ctx, docID, types.StageTranscribe, func(ctx context.Context, doc *types.Document) (*stageResult, error) {
		if doc.Category != types.DocCategoryAudio {
			return nil, fmt.Errorf("document category %q is not transcribable", doc.Category)
		}
		if doc.FilePath == "" {
			return nil, fmt.Errorf("audio document has no file path")
		}

		audio, err := s.files.Read(ctx, doc.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read audio object: %w", err)
		}
		transcript, err := s.speech.Transcribe(ctx, path.Base(doc.FilePath), audio)
		if err != nil {
			return nil, fmt.Errorf("transcribe: %w", err)
		}
		if strings.TrimSpace(transcript) == "" {
			return nil, fmt.Errorf("transcription produced empty text")
		}

		if err := s.docs.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{
			"content": transcript,
		}); err != nil {
			return nil, fmt.Errorf("store transcript: %w", err)
		}

		return &stageResult{output: map[string]any{
			"transcript_chars": len(transcript),
		}}, nil
	})
}

// RunPodcast renders the document as spoken audio: a script from the
// document's summary (or its content when no summary exists yet), synthesized
// and written to the file store.
func (s *pipelineService) RunPodcast(ctx context.Context, docID uuid.UUID) error {
	return s.runStage(ctx, docID, types.StagePodcast, func(ctx context.Context, doc *types.Document) (*stageResult, error) {
		source, err := s.podcastSource(ctx, doc)
		if err != nil {
			return nil, err
		}

		script, err := s.llm.GenerateText(ctx, podcastScriptSystemPrompt, source)
		if err != nil {
			return nil, fmt.Errorf("generate script: %w", err)
		}
		if strings.TrimSpace(script) == "" {
			return nil, fmt.Errorf("script generation produced empty text")
		}

		audio, err := s.speech.Speak(ctx, s.podcastVoice, script)
		if err != nil {
			return nil, fmt.Errorf("synthesize audio: %w", err)
		}

		key := fmt.Sprintf("podcasts/%s.mp3", doc.ID)
		if _, err := s.files.Write(ctx, key, audio); err != nil {
			return nil, fmt.Errorf("store podcast audio: %w", err)
		}

		return &stageResult{output: map[string]any{
			"podcast_path": key,
			"voice":        s.podcastVoice,
			"script_chars": len(script),
		}}, nil
	})
}

// podcastSource prefers the completed summarize task's summary and falls back
// to the resolved document content, truncated.
func (s *pipelineService) podcastSource(ctx context.Context, doc *types.Document) (string, error) {
	task, err := s.tasks.GetByDocumentAndStage(ctx, nil, doc.ID, types.StageSummarize)
	if err == nil && task != nil && task.Status == types.TaskStatusSuccess && strings.TrimSpace(task.Summary) != "" {
		return task.Summary, nil
	}

	text, err := s.resolver.Resolve(ctx, doc)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("document has no content for a podcast")
	}
	runes := []rune(text)
	if len(runes) > podcastInputMaxChars {
		text = string(runes[:podcastInputMaxChars])
	}
	return text, nil
}
