package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/types"
)

type TaskRunRepo interface {
	GetOrCreate(ctx context.Context, tx *gorm.DB, documentID, creatorID uuid.UUID, stage string) (*types.TaskRun, error)
	GetByDocumentAndStage(ctx context.Context, tx *gorm.DB, documentID uuid.UUID, stage string) (*types.TaskRun, error)
	GetByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.TaskRun, error)
	// SetStatus commits a status transition, rejecting illegal moves so a
	// task can never be observed jumping WAIT_TO -> SUCCESS.
	SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) (*types.TaskRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type taskRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRunRepo(db *gorm.DB, baseLog *logger.Logger) TaskRunRepo {
	return &taskRunRepo{db: db, log: baseLog.With("repo", "TaskRunRepo")}
}

func (r *taskRunRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, documentID, creatorID uuid.UUID, stage string) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if documentID == uuid.Nil || stage == "" {
		return nil, fmt.Errorf("taskrun: missing document_id or stage")
	}
	existing, err := r.GetByDocumentAndStage(ctx, transaction, documentID, stage)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	now := time.Now()
	task := &types.TaskRun{
		ID:         uuid.New(),
		DocumentID: documentID,
		CreatorID:  creatorID,
		Stage:      stage,
		Status:     types.TaskStatusWaitTo,
		Output:     datatypes.JSON([]byte(`{}`)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := transaction.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRunRepo) GetByDocumentAndStage(ctx context.Context, tx *gorm.DB, documentID uuid.UUID, stage string) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if documentID == uuid.Nil || stage == "" {
		return nil, nil
	}
	var task types.TaskRun
	err := transaction.WithContext(ctx).
		Where("document_id = ? AND stage = ?", documentID, stage).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRunRepo) GetByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TaskRun
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("stage ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRunRepo) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) (*types.TaskRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("taskrun: missing id")
	}
	var task types.TaskRun
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	if !types.ValidTransition(task.Status, status) {
		return nil, fmt.Errorf("taskrun: illegal status transition %s -> %s", task.Status, status)
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if status == types.TaskStatusProcessing {
		// A fresh run clears the previous failure.
		updates["last_error"] = ""
	}
	if err := transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	task.Status = status
	task.UpdatedAt = now
	return &task, nil
}

func (r *taskRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}
