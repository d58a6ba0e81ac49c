package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TaskStatusWaitTo     = "WAIT_TO"
	TaskStatusProcessing = "PROCESSING"
	TaskStatusSuccess    = "SUCCESS"
	TaskStatusFailed     = "FAILED"
)

const (
	StageEmbed      = "embed"
	StageGraph      = "graph"
	StageSummarize  = "summarize"
	StageTag        = "tag"
	StageTranscribe = "transcribe"
	StagePodcast    = "podcast"
)

// TaskRun is the durable status record for one stage of one document.
// Status is the only externally observable progress signal.
type TaskRun struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_task_document_stage" json:"document_id"`
	CreatorID  uuid.UUID `gorm:"type:uuid;not null;index" json:"creator_id"`
	Stage      string    `gorm:"column:stage;not null;uniqueIndex:idx_task_document_stage" json:"stage"`
	Status     string    `gorm:"column:status;not null;default:'WAIT_TO'" json:"status"`
	// Stage-specific outputs. Summary/Title/Description are filled by the
	// summarize stage; Output carries everything else (tags, transcript,
	// podcast file pointer).
	Title       string         `gorm:"column:title" json:"title"`
	Description string         `gorm:"column:description" json:"description"`
	Summary     string         `gorm:"column:summary" json:"summary"`
	Output      datatypes.JSON `gorm:"type:jsonb;column:output" json:"output"`
	LastError   string         `gorm:"column:last_error" json:"last_error"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (TaskRun) TableName() string { return "task_run" }

// ValidTransition reports whether a status change is legal. Re-triggering a
// finished or failed task re-enters PROCESSING; nothing ever moves straight
// from WAIT_TO to a terminal status.
func ValidTransition(from, to string) bool {
	switch to {
	case TaskStatusProcessing:
		return from == TaskStatusWaitTo || from == TaskStatusFailed || from == TaskStatusSuccess
	case TaskStatusSuccess, TaskStatusFailed:
		return from == TaskStatusProcessing
	default:
		return false
	}
}
