package repos

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/docmesh/docmesh-backend/internal/repos/testutil"
	"github.com/docmesh/docmesh-backend/internal/types"
)

func TestTaskRunRepoGetOrCreate(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewTaskRunRepo(db, testutil.Logger(t))

	docID := uuid.New()
	creatorID := uuid.New()

	task, err := repo.GetOrCreate(ctx, nil, docID, creatorID, types.StageEmbed)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if task.Status != types.TaskStatusWaitTo {
		t.Fatalf("expected WAIT_TO, got %s", task.Status)
	}

	again, err := repo.GetOrCreate(ctx, nil, docID, creatorID, types.StageEmbed)
	if err != nil {
		t.Fatalf("GetOrCreate second call: %v", err)
	}
	if again.ID != task.ID {
		t.Fatalf("expected same task record, got %s and %s", task.ID, again.ID)
	}

	other, err := repo.GetOrCreate(ctx, nil, docID, creatorID, types.StageGraph)
	if err != nil {
		t.Fatalf("GetOrCreate other stage: %v", err)
	}
	if other.ID == task.ID {
		t.Fatalf("expected distinct record per stage")
	}

	all, err := repo.GetByDocument(ctx, nil, docID)
	if err != nil || len(all) != 2 {
		t.Fatalf("GetByDocument: err=%v len=%d", err, len(all))
	}
}

func TestTaskRunRepoStatusTransitions(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewTaskRunRepo(db, testutil.Logger(t))

	task, err := repo.GetOrCreate(ctx, nil, uuid.New(), uuid.New(), types.StageSummarize)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// WAIT_TO -> SUCCESS is never legal.
	if _, err := repo.SetStatus(ctx, nil, task.ID, types.TaskStatusSuccess); err == nil {
		t.Fatalf("expected WAIT_TO -> SUCCESS to be rejected")
	}

	task, err = repo.SetStatus(ctx, nil, task.ID, types.TaskStatusProcessing)
	if err != nil {
		t.Fatalf("WAIT_TO -> PROCESSING: %v", err)
	}
	task, err = repo.SetStatus(ctx, nil, task.ID, types.TaskStatusFailed)
	if err != nil {
		t.Fatalf("PROCESSING -> FAILED: %v", err)
	}

	// A failed task can be re-triggered.
	task, err = repo.SetStatus(ctx, nil, task.ID, types.TaskStatusProcessing)
	if err != nil {
		t.Fatalf("FAILED -> PROCESSING: %v", err)
	}
	if _, err := repo.SetStatus(ctx, nil, task.ID, types.TaskStatusSuccess); err != nil {
		t.Fatalf("PROCESSING -> SUCCESS: %v", err)
	}

	// Re-entering PROCESSING clears the previous error string.
	if err := repo.UpdateFields(ctx, nil, task.ID, map[string]interface{}{"last_error": "boom"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if _, err := repo.SetStatus(ctx, nil, task.ID, types.TaskStatusProcessing); err != nil {
		t.Fatalf("SUCCESS -> PROCESSING: %v", err)
	}
	got, err := repo.GetByDocumentAndStage(ctx, nil, task.DocumentID, task.Stage)
	if err != nil {
		t.Fatalf("GetByDocumentAndStage: %v", err)
	}
	if got.LastError != "" {
		t.Fatalf("expected last_error cleared, got %q", got.LastError)
	}
}

func TestDocumentRepoTombstone(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewDocumentRepo(db, testutil.Logger(t))

	doc := &types.Document{
		ID:        uuid.New(),
		CreatorID: uuid.New(),
		Category:  types.DocCategoryQuickNote,
		Content:   "a note",
	}
	if _, err := repo.Create(ctx, nil, []*types.Document{doc}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.SoftDelete(ctx, nil, doc.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	got, err := repo.GetByID(ctx, nil, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Fatalf("expected tombstoned document hidden from GetByID")
	}

	any, err := repo.GetAnyByID(ctx, nil, doc.ID)
	if err != nil {
		t.Fatalf("GetAnyByID: %v", err)
	}
	if any == nil || !any.DeletedAt.Valid {
		t.Fatalf("expected tombstoned document visible via GetAnyByID with DeletedAt set")
	}
}
