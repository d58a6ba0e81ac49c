package realtime

import "testing"

func validEvent() TaskEvent {
	return TaskEvent{
		Channel: "creator-1",
		Event:   EventTaskSuccess,
		Data: map[string]any{
			"document_id": "doc-1",
			"stage":       "embed",
		},
	}
}

func TestTaskEventValidate(t *testing.T) {
	if err := validEvent().Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	e := validEvent()
	e.Channel = "  "
	if err := e.Validate(); err == nil {
		t.Fatal("event without a creator channel must be rejected")
	}

	e = validEvent()
	e.Event = "task_exploded"
	if err := e.Validate(); err == nil {
		t.Fatal("unknown event kind must be rejected")
	}

	e = validEvent()
	delete(e.Data, "document_id")
	if err := e.Validate(); err == nil {
		t.Fatal("event without document_id must be rejected")
	}

	e = validEvent()
	e.Data["stage"] = ""
	if err := e.Validate(); err == nil {
		t.Fatal("event without stage must be rejected")
	}

	e = validEvent()
	e.Event = EventTaskFailed
	e.Data["error"] = "boom"
	if err := e.Validate(); err != nil {
		t.Fatalf("failure event rejected: %v", err)
	}
}

func TestTaskChannelNaming(t *testing.T) {
	if got := TaskChannel("task-events", "creator-1"); got != "task-events:creator-1" {
		t.Fatalf("TaskChannel = %q", got)
	}
	if got := TaskChannelPattern("task-events"); got != "task-events:*" {
		t.Fatalf("TaskChannelPattern = %q", got)
	}
}
