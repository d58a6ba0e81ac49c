package bus

import (
	"context"

	"github.com/docmesh/docmesh-backend/internal/realtime"
)

// Bus fans stage outcomes out to notification consumers. Events travel on
// per-creator channels; a forwarder follows either every creator or a single
// one.
type Bus interface {
	Publish(ctx context.Context, msg realtime.TaskEvent) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.TaskEvent)) error
	StartCreatorForwarder(ctx context.Context, creatorID string, onMsg func(m realtime.TaskEvent)) error
	Close() error
}
