package services

import (
	"context"
	"strings"
	"testing"

	"github.com/docmesh/docmesh-backend/internal/types"
)

// Three chunks with a batch size of two must produce exactly two index
// upserts (one full batch plus the tail) covering idx 0, 1, 2 with
// deterministic ids.
func TestEmbedStageBatching(t *testing.T) {
	t.Setenv("EMBED_BATCH_SIZE", "2")
	f := newPipelineFixture(t)
	ctx := context.Background()

	paras := []string{
		strings.Repeat("alpha ", 150),
		strings.Repeat("bravo ", 150),
		strings.Repeat("charlie ", 120),
	}
	doc := f.createDoc(t, types.DocCategoryQuickNote, "")
	f.resolver.text = strings.Join(paras, "\n\n")

	if err := f.pipeline.RunEmbed(ctx, doc.ID); err != nil {
		t.Fatalf("RunEmbed: %v", err)
	}

	if len(f.vectors.upserts) != 2 {
		t.Fatalf("upsert batches = %d, want 2", len(f.vectors.upserts))
	}
	if len(f.vectors.upserts[0]) != 2 || len(f.vectors.upserts[1]) != 1 {
		t.Fatalf("batch sizes = %d,%d, want 2,1", len(f.vectors.upserts[0]), len(f.vectors.upserts[1]))
	}
	if len(f.embedder.calls) != 2 {
		t.Fatalf("embed calls = %d, want 2", len(f.embedder.calls))
	}

	rows := f.vectors.allRows()
	for i, row := range rows {
		if row.Idx != int64(i) {
			t.Fatalf("row %d has idx %d, want %d", i, row.Idx, i)
		}
		wantID := types.ChunkID(doc.ID, i)
		if row.ID != wantID {
			t.Fatalf("row %d id = %s, want %s", i, row.ID, wantID)
		}
		if row.DocID != doc.ID.String() || row.CreatorID != doc.CreatorID.String() {
			t.Fatalf("row %d carries wrong ownership: %s/%s", i, row.DocID, row.CreatorID)
		}
		if len(row.Embedding) == 0 {
			t.Fatalf("row %d has no embedding", i)
		}
	}

	task := f.taskFor(t, doc.ID, types.StageEmbed)
	if task.Status != types.TaskStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", task.Status)
	}
}

// Re-running the stage must produce the same ids so the index overwrites
// rather than duplicates.
func TestEmbedStageRerunIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "")
	f.resolver.text = "first paragraph\n\nsecond paragraph"

	if err := f.pipeline.RunEmbed(ctx, doc.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstRows := f.vectors.allRows()

	if err := f.pipeline.RunEmbed(ctx, doc.ID); err != nil {
		t.Fatalf("second run: %v", err)
	}
	allRows := f.vectors.allRows()
	secondRows := allRows[len(firstRows):]

	if len(firstRows) != len(secondRows) {
		t.Fatalf("run sizes differ: %d vs %d", len(firstRows), len(secondRows))
	}
	for i := range firstRows {
		if firstRows[i].ID != secondRows[i].ID {
			t.Fatalf("row %d id changed across runs: %s vs %s", i, firstRows[i].ID, secondRows[i].ID)
		}
		if firstRows[i].Idx != secondRows[i].Idx {
			t.Fatalf("row %d idx changed across runs", i)
		}
	}
}

func TestEmbedStageEmptyDocument(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "")
	f.resolver.text = "   \n\n  "

	if err := f.pipeline.RunEmbed(ctx, doc.ID); err != nil {
		t.Fatalf("RunEmbed: %v", err)
	}
	if len(f.vectors.upserts) != 0 {
		t.Fatalf("empty document must not upsert, got %d batches", len(f.vectors.upserts))
	}
	task := f.taskFor(t, doc.ID, types.StageEmbed)
	if task.Status != types.TaskStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", task.Status)
	}
}
