// CloudEvents helpers and typed event payloads emitted by the harness.

package modtest

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// NewCloudEvent creates a CloudEvent with the required attributes set.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// generateEventID generates a time-ordered unique identifier using
// UUIDv7, falling back to v4 if v7 generation fails.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates an event against the CloudEvents specification.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// RefreshTrigger identifies what initiated a refresh cycle.
type RefreshTrigger string

const (
	// RefreshTriggerManual is an explicit Refresh call from test code.
	RefreshTriggerManual RefreshTrigger = "manual"

	// RefreshTriggerProperty is a SetProperty or property revert.
	RefreshTriggerProperty RefreshTrigger = "property"

	// RefreshTriggerFileWatch is a watched property source changing on disk.
	RefreshTriggerFileWatch RefreshTrigger = "file-watch"

	// RefreshTriggerMockReset is a between-test mock reinstallation.
	RefreshTriggerMockReset RefreshTrigger = "mock-reset"
)

// RefreshStartedEvent is the payload of EventTypeRefreshStarted.
type RefreshStartedEvent struct {
	RefreshID    string         `json:"refreshId"`
	Trigger      RefreshTrigger `json:"trigger"`
	AffectedKeys []string       `json:"affectedKeys,omitempty"`
}

// RefreshCompletedEvent is the payload of EventTypeRefreshCompleted.
type RefreshCompletedEvent struct {
	RefreshID         string         `json:"refreshId"`
	Trigger           RefreshTrigger `json:"trigger"`
	Duration          time.Duration  `json:"duration"`
	ChangesApplied    int            `json:"changesApplied"`
	SectionsRefreshed []string       `json:"sectionsRefreshed,omitempty"`
	SubscriberCount   int            `json:"subscriberCount"`
}

// RefreshFailedEvent is the payload of EventTypeRefreshFailed.
type RefreshFailedEvent struct {
	RefreshID        string         `json:"refreshId"`
	Trigger          RefreshTrigger `json:"trigger"`
	Error            string         `json:"error"`
	FailedSubscriber string         `json:"failedSubscriber,omitempty"`
	Duration         time.Duration  `json:"duration"`
}

// RefreshNoopEvent is the payload of EventTypeRefreshNoop, emitted when
// a refresh is requested but nothing changed.
type RefreshNoopEvent struct {
	RefreshID string `json:"refreshId"`
	Reason    string `json:"reason"`
}

// ContextEvent is the payload of the context lifecycle events.
type ContextEvent struct {
	RunID        string   `json:"runId"`
	Environments []string `json:"environments,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// MockEvent is the payload of EventTypeMockInstalled and
// EventTypeMockReset.
type MockEvent struct {
	ServiceName string   `json:"serviceName,omitempty"`
	Services    []string `json:"services,omitempty"`
}

// PropertyChangedEvent is the payload of EventTypePropertyChanged.
type PropertyChangedEvent struct {
	Key      string `json:"key"`
	OldValue any    `json:"oldValue,omitempty"`
	NewValue any    `json:"newValue,omitempty"`
	Source   string `json:"source"`
}

// SourceLoadedEvent is the payload of EventTypeSourceLoaded and
// EventTypeSourceReloaded.
type SourceLoadedEvent struct {
	Path     string   `json:"path"`
	Files    []string `json:"files"`
	KeyCount int      `json:"keyCount"`
	Reloaded bool     `json:"reloaded"`
}

// ServerEvent is the payload of the managed server lifecycle events.
type ServerEvent struct {
	Address    string `json:"address,omitempty"`
	URL        string `json:"url,omitempty"`
	Executable string `json:"executable,omitempty"`
	PID        int    `json:"pid,omitempty"`
	Error      string `json:"error,omitempty"`
}
