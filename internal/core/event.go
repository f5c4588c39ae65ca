package core

import "time"

type EventType string

const (
	EventStarting              EventType = "STARTING"
	EventRunning               EventType = "RUNNING"
	EventStopping              EventType = "STOPPING"
	EventStopped               EventType = "STOPPED"
	EventError                 EventType = "ERROR"
	EventSnapshotCreating      EventType = "SNAPSHOT_CREATING"
	EventSnapshotCreated       EventType = "SNAPSHOT_CREATED"
	EventSnapshotCreationError EventType = "SNAPSHOT_CREATION_ERROR"
)

// LifecycleEvent is published once per runtime status transition.
type LifecycleEvent struct {
	ID          string          `json:"id"`
	Ts          time.Time       `json:"ts"`
	WorkspaceID string          `json:"workspace_id"`
	Type        EventType       `json:"type"`
	PrevStatus  WorkspaceStatus `json:"prev_status"`
	Status      WorkspaceStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
}

func NewLifecycleEvent(wsid string, typ EventType, prev, next WorkspaceStatus, errMsg string) LifecycleEvent {
	return LifecycleEvent{
		ID:          NewID(),
		Ts:          time.Now().UTC(),
		WorkspaceID: wsid,
		Type:        typ,
		PrevStatus:  prev,
		Status:      next,
		Error:       errMsg,
	}
}
