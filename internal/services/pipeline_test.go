package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmesh/docmesh-backend/internal/repos"
	"github.com/docmesh/docmesh-backend/internal/repos/testutil"
	"github.com/docmesh/docmesh-backend/internal/types"
)

type pipelineFixture struct {
	docs      repos.DocumentRepo
	tasks     repos.TaskRunRepo
	resolver  *fakeResolver
	embedder  *fakeEmbedder
	llm       *fakeLLM
	speech    *fakeSpeech
	extractor *fakeExtractor
	vectors   *fakeVectorIndex
	graph     *fakeGraph
	store     *fakeStore
	notify    *fakeNotifier
	pipeline  PipelineService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	f := &pipelineFixture{
		docs:      repos.NewDocumentRepo(db, log),
		tasks:     repos.NewTaskRunRepo(db, log),
		resolver:  &fakeResolver{},
		embedder:  &fakeEmbedder{},
		llm:       &fakeLLM{},
		speech:    &fakeSpeech{},
		extractor: &fakeExtractor{},
		vectors:   &fakeVectorIndex{},
		graph:     &fakeGraph{},
		store:     newFakeStore(),
		notify:    &fakeNotifier{},
	}
	f.pipeline = NewPipelineService(
		log,
		f.docs,
		f.tasks,
		f.resolver,
		f.embedder,
		f.llm,
		f.speech,
		f.extractor,
		f.vectors,
		f.graph,
		f.store,
		f.notify,
	)
	return f
}

func (f *pipelineFixture) createDoc(t *testing.T, category, content string) *types.Document {
	t.Helper()
	doc := &types.Document{
		ID:        uuid.New(),
		CreatorID: uuid.New(),
		Title:     "untitled",
		Category:  category,
		Content:   content,
	}
	if category == types.DocCategoryFile || category == types.DocCategoryWebsite || category == types.DocCategoryAudio {
		doc.FilePath = "objects/" + doc.ID.String()
	}
	created, err := f.docs.Create(context.Background(), nil, []*types.Document{doc})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return created[0]
}

func (f *pipelineFixture) taskFor(t *testing.T, docID uuid.UUID, stage string) *types.TaskRun {
	t.Helper()
	task, err := f.tasks.GetByDocumentAndStage(context.Background(), nil, docID, stage)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	return task
}

func tagJSON(tags ...string) func(system, user, schemaName string) (map[string]any, error) {
	return func(system, user, schemaName string) (map[string]any, error) {
		out := make([]any, len(tags))
		for i, tg := range tags {
			out[i] = tg
		}
		return map[string]any{"tags": out}, nil
	}
}

func TestStageExecutorTombstonedDocumentIsNoOp(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "some note")

	if err := f.docs.SoftDelete(ctx, nil, doc.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	err := f.pipeline.RunTag(ctx, doc.ID)
	if !errors.Is(err, ErrDocumentDeleted) {
		t.Fatalf("expected ErrDocumentDeleted, got %v", err)
	}

	tasks, err := f.tasks.GetByDocument(ctx, nil, doc.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tombstoned document must not get task records, found %d", len(tasks))
	}
	if len(f.notify.calls) != 0 {
		t.Fatalf("tombstoned document must not emit events, got %d", len(f.notify.calls))
	}
}

func TestStageExecutorUnknownDocument(t *testing.T) {
	f := newPipelineFixture(t)
	err := f.pipeline.RunTag(context.Background(), uuid.New())
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestStageExecutorSuccessCommitsOutputs(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "a note about cats")
	f.resolver.text = "a note about cats"
	f.llm.jsonFn = tagJSON("cats", "pets")

	if err := f.pipeline.RunTag(ctx, doc.ID); err != nil {
		t.Fatalf("RunTag: %v", err)
	}

	task := f.taskFor(t, doc.ID, types.StageTag)
	if task == nil {
		t.Fatal("task record missing")
	}
	if task.Status != types.TaskStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", task.Status)
	}
	var output map[string]any
	if err := json.Unmarshal(task.Output, &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	tags, ok := output["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("output tags = %v, want 2 tags", output["tags"])
	}
	if len(f.notify.calls) != 1 || f.notify.calls[0].event != "success" || f.notify.calls[0].stage != types.StageTag {
		t.Fatalf("notifier calls = %+v", f.notify.calls)
	}
}

func TestStageExecutorFailureRecordsLastError(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "note")
	f.resolver.err = errors.New("content unavailable")

	if err := f.pipeline.RunTag(ctx, doc.ID); err == nil {
		t.Fatal("expected failure")
	}

	task := f.taskFor(t, doc.ID, types.StageTag)
	if task.Status != types.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if task.LastError == "" {
		t.Fatal("last_error not recorded")
	}
	if len(f.notify.calls) != 1 || f.notify.calls[0].event != "failed" {
		t.Fatalf("notifier calls = %+v", f.notify.calls)
	}
}

func TestStageExecutorRerunAfterFailure(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "note")

	f.resolver.err = errors.New("transient")
	if err := f.pipeline.RunTag(ctx, doc.ID); err == nil {
		t.Fatal("expected first run to fail")
	}

	f.resolver.err = nil
	f.resolver.text = "a note about go"
	f.llm.jsonFn = tagJSON("go")
	if err := f.pipeline.RunTag(ctx, doc.ID); err != nil {
		t.Fatalf("rerun: %v", err)
	}

	task := f.taskFor(t, doc.ID, types.StageTag)
	if task.Status != types.TaskStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", task.Status)
	}
	if task.LastError != "" {
		t.Fatalf("last_error = %q, want cleared", task.LastError)
	}
}

// failingOutputsTaskRepo rejects the outputs write while letting status and
// last_error writes through, mimicking a partial storage failure.
type failingOutputsTaskRepo struct {
	repos.TaskRunRepo
}

func (r *failingOutputsTaskRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	if _, ok := updates["output"]; ok {
		return errors.New("disk full")
	}
	return r.TaskRunRepo.UpdateFields(ctx, tx, id, updates)
}

// A failed outputs commit after a successful body must still land the task
// in FAILED with the cause recorded, never leave it in PROCESSING.
func TestStageExecutorOutputsCommitFailureLandsFailed(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	docs := repos.NewDocumentRepo(db, log)
	tasks := &failingOutputsTaskRepo{TaskRunRepo: repos.NewTaskRunRepo(db, log)}
	resolver := &fakeResolver{text: "a note about go"}
	llm := &fakeLLM{jsonFn: tagJSON("go")}
	notify := &fakeNotifier{}

	pipeline := NewPipelineService(
		log, docs, tasks, resolver,
		&fakeEmbedder{}, llm, &fakeSpeech{}, &fakeExtractor{},
		&fakeVectorIndex{}, &fakeGraph{}, newFakeStore(), notify,
	)

	ctx := context.Background()
	doc := &types.Document{ID: uuid.New(), CreatorID: uuid.New(), Category: types.DocCategoryQuickNote, Content: "a note about go"}
	if _, err := docs.Create(ctx, nil, []*types.Document{doc}); err != nil {
		t.Fatalf("create document: %v", err)
	}

	if err := pipeline.RunTag(ctx, doc.ID); err == nil {
		t.Fatal("expected the outputs commit failure to surface")
	}

	task, err := tasks.GetByDocumentAndStage(ctx, nil, doc.ID, types.StageTag)
	if err != nil || task == nil {
		t.Fatalf("load task: %v", err)
	}
	if task.Status != types.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED after a commit failure", task.Status)
	}
	if !strings.Contains(task.LastError, "disk full") {
		t.Fatalf("last_error = %q, want the commit failure recorded", task.LastError)
	}
	if len(notify.calls) != 1 || notify.calls[0].event != "failed" {
		t.Fatalf("notifier calls = %+v, want one failure event", notify.calls)
	}
}

func TestStageExecutorMidFlightDeleteAbortsCommit(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	doc := f.createDoc(t, types.DocCategoryQuickNote, "note")
	f.resolver.text = "note"

	// Delete the document while the stage body is running.
	f.llm.jsonFn = func(system, user, schemaName string) (map[string]any, error) {
		if err := f.docs.SoftDelete(ctx, nil, doc.ID); err != nil {
			return nil, err
		}
		return map[string]any{"tags": []any{"late"}}, nil
	}

	err := f.pipeline.RunTag(ctx, doc.ID)
	if !errors.Is(err, ErrDocumentDeleted) {
		t.Fatalf("expected ErrDocumentDeleted, got %v", err)
	}

	task := f.taskFor(t, doc.ID, types.StageTag)
	if task.Status != types.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	var output map[string]any
	if err := json.Unmarshal(task.Output, &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if _, ok := output["tags"]; ok {
		t.Fatal("outputs must not be committed after a mid-flight delete")
	}
}
