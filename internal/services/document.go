package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/repos"
	"github.com/docmesh/docmesh-backend/internal/types"
)

// DocumentService owns the document lifecycle: registration, kicking off the
// processing stages appropriate to the category, and tombstoning.
type DocumentService interface {
	Create(ctx context.Context, input CreateDocumentInput) (*types.Document, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Document, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*types.Document, error)
	// Process runs the pipeline for the document. Audio documents are
	// transcribed first; the text stages then run concurrently.
	Process(ctx context.Context, id uuid.UUID) error
	// Delete tombstones the document. In-flight stage runs observe the
	// tombstone and refuse to commit their results.
	Delete(ctx context.Context, id uuid.UUID) error
	Tasks(ctx context.Context, id uuid.UUID) ([]*types.TaskRun, error)
}

type CreateDocumentInput struct {
	CreatorID uuid.UUID
	Title     string
	Category  string
	FilePath  string
	Content   string
}

type documentService struct {
	log      *logger.Logger
	docs     repos.DocumentRepo
	tasks    repos.TaskRunRepo
	pipeline PipelineService
}

func NewDocumentService(baseLog *logger.Logger, docs repos.DocumentRepo, tasks repos.TaskRunRepo, pipeline PipelineService) DocumentService {
	return &documentService{
		log:      baseLog.With("service", "DocumentService"),
		docs:     docs,
		tasks:    tasks,
		pipeline: pipeline,
	}
}

var validCategories = map[string]bool{
	types.DocCategoryFile:      true,
	types.DocCategoryWebsite:   true,
	types.DocCategoryQuickNote: true,
	types.DocCategoryAudio:     true,
}

func (s *documentService) Create(ctx context.Context, input CreateDocumentInput) (*types.Document, error) {
	if input.CreatorID == uuid.Nil {
		return nil, fmt.Errorf("document: creator required")
	}
	if !validCategories[input.Category] {
		return nil, fmt.Errorf("document: unknown category %q", input.Category)
	}
	switch input.Category {
	case types.DocCategoryQuickNote:
		if strings.TrimSpace(input.Content) == "" {
			return nil, fmt.Errorf("document: quick note requires content")
		}
	default:
		if input.FilePath == "" {
			return nil, fmt.Errorf("document: category %q requires a file path", input.Category)
		}
	}

	doc := &types.Document{
		ID:        uuid.New(),
		CreatorID: input.CreatorID,
		Title:     input.Title,
		Category:  input.Category,
		FilePath:  input.FilePath,
		Content:   input.Content,
	}
	created, err := s.docs.Create(ctx, nil, []*types.Document{doc})
	if err != nil {
		return nil, fmt.Errorf("document: create: %w", err)
	}
	s.log.Info("document created", "document_id", doc.ID, "category", doc.Category, "creator_id", doc.CreatorID)
	return created[0], nil
}

func (s *documentService) Get(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	doc, err := s.docs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *documentService) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*types.Document, error) {
	return s.docs.GetByCreator(ctx, nil, creatorID)
}

func (s *documentService) Process(ctx context.Context, id uuid.UUID) error {
	doc, err := s.docs.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if doc.Category == types.DocCategoryAudio && strings.TrimSpace(doc.Content) == "" {
		if err := s.pipeline.RunTranscribe(ctx, id); err != nil {
			return err
		}
	}
	return s.pipeline.ProcessDocument(ctx, id)
}

func (s *documentService) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.docs.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if err := s.docs.SoftDelete(ctx, nil, id); err != nil {
		return fmt.Errorf("document: delete: %w", err)
	}
	s.log.Info("document tombstoned", "document_id", id)
	return nil
}

func (s *documentService) Tasks(ctx context.Context, id uuid.UUID) ([]*types.TaskRun, error) {
	return s.tasks.GetByDocument(ctx, nil, id)
}
