package services

import (
	"context"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/realtime"
	"github.com/docmesh/docmesh-backend/internal/realtime/bus"
	"github.com/docmesh/docmesh-backend/internal/types"
)

// TaskNotifier fans out terminal stage results. Delivery is best effort:
// a publish failure never fails the stage that produced it.
type TaskNotifier interface {
	TaskSucceeded(ctx context.Context, doc *types.Document, task *types.TaskRun)
	TaskFailed(ctx context.Context, doc *types.Document, task *types.TaskRun, cause error)
}

type busNotifier struct {
	bus bus.Bus
	log *logger.Logger
}

func NewBusNotifier(b bus.Bus, baseLog *logger.Logger) TaskNotifier {
	return &busNotifier{bus: b, log: baseLog.With("service", "task_notifier")}
}

func (n *busNotifier) TaskSucceeded(ctx context.Context, doc *types.Document, task *types.TaskRun) {
	n.publish(ctx, realtime.EventTaskSuccess, doc, task, nil)
}

func (n *busNotifier) TaskFailed(ctx context.Context, doc *types.Document, task *types.TaskRun, cause error) {
	n.publish(ctx, realtime.EventTaskFailed, doc, task, cause)
}

func (n *busNotifier) publish(ctx context.Context, event string, doc *types.Document, task *types.TaskRun, cause error) {
	data := map[string]any{
		"document_id": doc.ID.String(),
		"task_id":     task.ID.String(),
		"stage":       task.Stage,
		"status":      task.Status,
	}
	if doc.Title != "" {
		data["document_title"] = doc.Title
	}
	if cause != nil {
		data["error"] = cause.Error()
	}
	msg := realtime.TaskEvent{
		Channel: doc.CreatorID.String(),
		Event:   event,
		Data:    data,
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("task event publish failed", "stage", task.Stage, "document_id", doc.ID, "error", err)
	}
}

type nopNotifier struct{}

// NewNopNotifier is used when no bus is configured.
func NewNopNotifier() TaskNotifier { return nopNotifier{} }

func (nopNotifier) TaskSucceeded(context.Context, *types.Document, *types.TaskRun) {}
func (nopNotifier) TaskFailed(context.Context, *types.Document, *types.TaskRun, error) {}
