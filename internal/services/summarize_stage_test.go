package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/docmesh/docmesh-backend/internal/types"
)

// The fold is strictly sequential: step n's input must contain step n-1's
// output, and the final state lands on both the task and the document.
func TestSummarizeStageSequentialFold(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "")
	f.resolver.text = strings.Join([]string{
		strings.Repeat("first ", 130),
		strings.Repeat("second ", 110),
		strings.Repeat("third ", 130),
	}, "\n\n")

	step := 0
	f.llm.jsonFn = func(system, user, schemaName string) (map[string]any, error) {
		step++
		if step > 1 {
			// The running summary fed in must be the previous step's output.
			want := fmt.Sprintf("fold-%d", step-1)
			var payload map[string]any
			if err := json.Unmarshal([]byte(user), &payload); err != nil {
				return nil, err
			}
			if payload["running_summary"] != want {
				return nil, fmt.Errorf("step %d saw running summary %v, want %s", step, payload["running_summary"], want)
			}
		}
		return map[string]any{
			"title":       fmt.Sprintf("title-%d", step),
			"description": fmt.Sprintf("desc-%d", step),
			"summary":     fmt.Sprintf("fold-%d", step),
		}, nil
	}

	if err := f.pipeline.RunSummarize(ctx, doc.ID); err != nil {
		t.Fatalf("RunSummarize: %v", err)
	}
	if step != 3 {
		t.Fatalf("reduce steps = %d, want 3", step)
	}

	task := f.taskFor(t, doc.ID, types.StageSummarize)
	if task.Summary != "fold-3" {
		t.Fatalf("task summary = %q, want fold-3", task.Summary)
	}
	if task.Title != "title-3" || task.Description != "desc-3" {
		t.Fatalf("task metadata = %q/%q, want step-3 values", task.Title, task.Description)
	}

	updated, err := f.docs.GetByID(ctx, nil, doc.ID)
	if err != nil || updated == nil {
		t.Fatalf("reload document: %v", err)
	}
	if updated.Title != "title-3" || updated.Description != "desc-3" {
		t.Fatalf("document metadata = %q/%q, want step-3 values", updated.Title, updated.Description)
	}
}

// A failed step discards the partial fold: nothing lands on the document.
func TestSummarizeStageFailureDiscardsPartial(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "")
	f.resolver.text = strings.Join([]string{
		strings.Repeat("one ", 200),
		strings.Repeat("two ", 200),
		strings.Repeat("three ", 150),
	}, "\n\n")

	step := 0
	f.llm.jsonFn = func(system, user, schemaName string) (map[string]any, error) {
		step++
		if step == 2 {
			return nil, errors.New("model overloaded")
		}
		return map[string]any{"title": "t", "description": "d", "summary": "s"}, nil
	}

	if err := f.pipeline.RunSummarize(ctx, doc.ID); err == nil {
		t.Fatal("expected failure")
	}

	task := f.taskFor(t, doc.ID, types.StageSummarize)
	if task.Status != types.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if task.Summary != "" {
		t.Fatalf("partial summary %q committed on failure", task.Summary)
	}
	if !strings.Contains(task.LastError, "model overloaded") {
		t.Fatalf("last_error = %q, want the step failure", task.LastError)
	}

	updated, err := f.docs.GetByID(ctx, nil, doc.ID)
	if err != nil || updated == nil {
		t.Fatalf("reload document: %v", err)
	}
	if updated.Title != "untitled" {
		t.Fatalf("document title = %q, must stay untouched on failure", updated.Title)
	}
}

func TestSummarizeStageEmptyDocumentFails(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "")
	f.resolver.text = ""

	if err := f.pipeline.RunSummarize(ctx, doc.ID); err == nil {
		t.Fatal("expected failure for empty document")
	}
	task := f.taskFor(t, doc.ID, types.StageSummarize)
	if task.Status != types.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
}
