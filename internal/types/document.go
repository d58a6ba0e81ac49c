package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DocCategoryFile      = "file"
	DocCategoryWebsite   = "website"
	DocCategoryQuickNote = "quick_note"
	DocCategoryAudio     = "audio"
)

type Document struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatorID   uuid.UUID `gorm:"type:uuid;not null;index" json:"creator_id"`
	Title       string    `gorm:"column:title" json:"title"`
	Description string    `gorm:"column:description" json:"description"`
	Category    string    `gorm:"column:category;not null" json:"category"`
	// FilePath points at the converted-markdown object for file/website
	// documents; Content carries inline text for quick notes and the
	// transcript for audio documents once transcription has run.
	FilePath  string         `gorm:"column:file_path" json:"file_path"`
	Content   string         `gorm:"column:content" json:"content"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }
