package realtime

import (
	"fmt"
	"strings"
)

const (
	EventTaskSuccess = "task_success"
	EventTaskFailed  = "task_failed"
)

// TaskEvent is the message fanned out when a stage commits a terminal status.
// Channel is the creator id; downstream notification adapters subscribe to
// that creator's channel and render per-provider messages from Data.
type TaskEvent struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data,omitempty"`
}

// Validate rejects events no consumer could route: without a creator
// channel, a known event kind and the owning document and stage, the payload
// is noise on the wire.
func (e TaskEvent) Validate() error {
	if strings.TrimSpace(e.Channel) == "" {
		return fmt.Errorf("task event: missing creator channel")
	}
	switch e.Event {
	case EventTaskSuccess, EventTaskFailed:
	default:
		return fmt.Errorf("task event: unknown event %q", e.Event)
	}
	if e.Data["document_id"] == nil || e.Data["document_id"] == "" {
		return fmt.Errorf("task event: missing document_id")
	}
	if e.Data["stage"] == nil || e.Data["stage"] == "" {
		return fmt.Errorf("task event: missing stage")
	}
	return nil
}

// TaskChannel is the per-creator pub/sub channel name. Fan-out is scoped per
// creator so a consumer for one account never sees another account's events.
func TaskChannel(prefix, creatorID string) string {
	return prefix + ":" + creatorID
}

// TaskChannelPattern matches every creator's channel under the prefix.
func TaskChannelPattern(prefix string) string {
	return prefix + ":*"
}
