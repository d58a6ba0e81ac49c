package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/platform/filestore"
	"github.com/docmesh/docmesh-backend/internal/repos"
	"github.com/docmesh/docmesh-backend/internal/types"
	"github.com/docmesh/docmesh-backend/internal/utils"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentDeleted  = errors.New("document deleted")
	// ErrMissingDefaults means the backend a stage depends on (embedder,
	// graph store, model client) is not configured.
	ErrMissingDefaults = errors.New("required backend not configured")
)

// PipelineService runs the per-document processing stages. Each stage is an
// independently restartable unit of work tracked by one task record per
// (document, stage).
type PipelineService interface {
	RunEmbed(ctx context.Context, docID uuid.UUID) error
	RunGraph(ctx context.Context, docID uuid.UUID) error
	RunSummarize(ctx context.Context, docID uuid.UUID) error
	RunTag(ctx context.Context, docID uuid.UUID) error
	RunTranscribe(ctx context.Context, docID uuid.UUID) error
	RunPodcast(ctx context.Context, docID uuid.UUID) error
	// ProcessDocument fans out the text stages concurrently. A single stage
	// failing does not cancel its siblings; the first error is returned
	// after all stages settle.
	ProcessDocument(ctx context.Context, docID uuid.UUID) error
}

type pipelineService struct {
	log      *logger.Logger
	docs     repos.DocumentRepo
	tasks    repos.TaskRunRepo
	resolver ContentResolver

	embedder  Embedder
	llm       LLM
	speech    SpeechClient
	extractor Extractor
	vectors   VectorIndex
	graph     GraphStore
	files     filestore.Store
	notify    TaskNotifier

	embedBatchSize int
	podcastVoice   string
}

func NewPipelineService(
	baseLog *logger.Logger,
	docs repos.DocumentRepo,
	tasks repos.TaskRunRepo,
	resolver ContentResolver,
	embedder Embedder,
	llm LLM,
	speech SpeechClient,
	extractor Extractor,
	vectors VectorIndex,
	graph GraphStore,
	files filestore.Store,
	notify TaskNotifier,
) PipelineService {
	if notify == nil {
		notify = NewNopNotifier()
	}
	return &pipelineService{
		log:            baseLog.With("service", "PipelineService"),
		docs:           docs,
		tasks:          tasks,
		resolver:       resolver,
		embedder:       embedder,
		llm:            llm,
		speech:         speech,
		extractor:      extractor,
		vectors:        vectors,
		graph:          graph,
		files:          files,
		notify:         notify,
		embedBatchSize: utils.GetEnvAsInt("EMBED_BATCH_SIZE", 16, baseLog),
		podcastVoice:   utils.GetEnv("PODCAST_VOICE", "alloy", baseLog),
	}
}

// stageResult carries what a stage body wants committed onto the task record
// alongside the SUCCESS flip. All fields are optional.
type stageResult struct {
	title       string
	description string
	summary     string
	output      map[string]any
}

type stageBody func(ctx context.Context, doc *types.Document) (*stageResult, error)

// runStage is the uniform envelope around every stage: precondition checks,
// PROCESSING committed before any external work, the body, then exactly one
// terminal commit. A document tombstoned mid-flight aborts the commit of the
// body's results.
func (s *pipelineService) runStage(ctx context.Context, docID uuid.UUID, stage string, body stageBody) error {
	log := s.log.With("stage", stage, "document_id", docID)

	doc, err := s.docs.GetAnyByID(ctx, nil, docID)
	if err != nil {
		return fmt.Errorf("stage %s: load document: %w", stage, err)
	}
	if doc == nil {
		return fmt.Errorf("stage %s: %w", stage, ErrDocumentNotFound)
	}
	if doc.DeletedAt.Valid {
		log.Warn("stage skipped: document tombstoned")
		return fmt.Errorf("stage %s: %w", stage, ErrDocumentDeleted)
	}
	if err := s.checkBackends(stage); err != nil {
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	task, err := s.tasks.GetOrCreate(ctx, nil, doc.ID, doc.CreatorID, stage)
	if err != nil {
		return fmt.Errorf("stage %s: task record: %w", stage, err)
	}
	task, err = s.tasks.SetStatus(ctx, nil, task.ID, types.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("stage %s: enter processing: %w", stage, err)
	}
	log.Info("stage started", "task_id", task.ID)

	res, bodyErr := body(ctx, doc)

	if bodyErr == nil {
		// The document may have been deleted while the body ran; its
		// results must not be committed against a tombstone.
		cur, curErr := s.docs.GetAnyByID(ctx, nil, docID)
		switch {
		case curErr != nil:
			bodyErr = fmt.Errorf("recheck document: %w", curErr)
		case cur == nil:
			bodyErr = ErrDocumentNotFound
		case cur.DeletedAt.Valid:
			bodyErr = ErrDocumentDeleted
		}
	}

	// The outputs commit shares the failure path with the body: a task must
	// never be left in PROCESSING because the commit itself failed.
	if bodyErr == nil && res != nil {
		bodyErr = s.commitOutputs(ctx, task.ID, res)
	}
	if bodyErr != nil {
		return s.failStage(ctx, log, stage, doc, task, bodyErr)
	}

	task, err = s.tasks.SetStatus(ctx, nil, task.ID, types.TaskStatusSuccess)
	if err != nil {
		return s.failStage(ctx, log, stage, doc, task, fmt.Errorf("commit success: %w", err))
	}
	s.notify.TaskSucceeded(ctx, doc, task)
	log.Info("stage completed", "task_id", task.ID)
	return nil
}

func (s *pipelineService) commitOutputs(ctx context.Context, taskID uuid.UUID, res *stageResult) error {
	updates := map[string]interface{}{}
	if res.title != "" {
		updates["title"] = res.title
	}
	if res.description != "" {
		updates["description"] = res.description
	}
	if res.summary != "" {
		updates["summary"] = res.summary
	}
	if res.output != nil {
		blob, err := json.Marshal(res.output)
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		updates["output"] = datatypes.JSON(blob)
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.tasks.UpdateFields(ctx, nil, taskID, updates); err != nil {
		return fmt.Errorf("commit outputs: %w", err)
	}
	return nil
}

func (s *pipelineService) failStage(ctx context.Context, log *logger.Logger, stage string, doc *types.Document, task *types.TaskRun, cause error) error {
	if _, err := s.tasks.SetStatus(ctx, nil, task.ID, types.TaskStatusFailed); err != nil {
		log.Error("failed to commit FAILED status", "task_id", task.ID, "error", err)
	}
	if err := s.tasks.UpdateFields(ctx, nil, task.ID, map[string]interface{}{
		"last_error": cause.Error(),
	}); err != nil {
		log.Error("failed to record last_error", "task_id", task.ID, "error", err)
	}
	task.Status = types.TaskStatusFailed
	s.notify.TaskFailed(ctx, doc, task, cause)
	log.Warn("stage failed", "task_id", task.ID, "error", cause)
	return fmt.Errorf("stage %s: %w", stage, cause)
}

func (s *pipelineService) checkBackends(stage string) error {
	switch stage {
	case types.StageEmbed:
		if s.embedder == nil || s.vectors == nil {
			return ErrMissingDefaults
		}
	case types.StageGraph:
		if s.extractor == nil || s.graph == nil {
			return ErrMissingDefaults
		}
	case types.StageSummarize, types.StageTag:
		if s.llm == nil {
			return ErrMissingDefaults
		}
	case types.StageTranscribe:
		if s.speech == nil || s.files == nil {
			return ErrMissingDefaults
		}
	case types.StagePodcast:
		if s.speech == nil || s.llm == nil || s.files == nil {
			return ErrMissingDefaults
		}
	}
	return nil
}

func (s *pipelineService) ProcessDocument(ctx context.Context, docID uuid.UUID) error {
	var g errgroup.Group
	g.Go(func() error { return s.RunEmbed(ctx, docID) })
	g.Go(func() error { return s.RunGraph(ctx, docID) })
	g.Go(func() error { return s.RunSummarize(ctx, docID) })
	g.Go(func() error { return s.RunTag(ctx, docID) })
	return g.Wait()
}
