package modtest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRefreshTimeout bounds a single subscriber's Refresh call when
// the subscriber does not declare its own timeout.
const DefaultRefreshTimeout = 5 * time.Second

// Refreshable is implemented by services and modules that want to react
// to property changes at runtime. Subscribers are notified after the
// changed configuration sections have been re-fed, so reading their
// config structs inside Refresh observes the new values.
//
// Refresh implementations should be:
//   - Idempotent: the same changes may be delivered more than once
//   - Fast: refreshes run synchronously inside the test
//   - Atomic: apply all changes or leave state untouched on failure
type Refreshable interface {
	// Refresh applies property changes. The changes slice describes
	// exactly which keys changed, with old and new values, sorted by key.
	Refresh(ctx context.Context, changes []PropertyChange) error

	// CanRefresh reports whether the subscriber currently accepts
	// refreshes. Returning false skips it for the cycle.
	CanRefresh() bool

	// RefreshTimeout returns the maximum time a refresh may take. Zero
	// means DefaultRefreshTimeout.
	RefreshTimeout() time.Duration
}

// refreshSubscriber pairs a subscriber with its registration order.
type refreshSubscriber struct {
	name       string
	subscriber Refreshable
}

// RefreshOrchestrator drives property refresh cycles. Unlike a
// production reload pipeline there is no queueing or backoff: a test
// that sets a property needs the refresh applied before the next line
// executes, so cycles run synchronously on the caller's goroutine.
// Concurrent cycles are rejected with ErrRefreshInProgress.
type RefreshOrchestrator struct {
	mu          sync.Mutex
	subscribers []refreshSubscriber
	inProgress  bool

	// rebind re-feeds the configuration sections intersecting the
	// changed keys before subscribers run. It returns the section names
	// that were re-fed.
	rebind func(ctx context.Context, keys []string) ([]string, error)

	subject Subject
	logger  Logger
}

// NewRefreshOrchestrator creates an orchestrator logging through logger.
func NewRefreshOrchestrator(logger Logger) *RefreshOrchestrator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &RefreshOrchestrator{logger: logger}
}

// SetEventSubject sets the subject refresh lifecycle events are
// published through.
func (o *RefreshOrchestrator) SetEventSubject(subject Subject) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subject = subject
}

// SetRebindHook installs the section re-feed hook.
func (o *RefreshOrchestrator) SetRebindHook(rebind func(ctx context.Context, keys []string) ([]string, error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rebind = rebind
}

// Subscribe registers a refresh subscriber under a unique name.
// Subscribers are notified in subscription order.
func (o *RefreshOrchestrator) Subscribe(name string, subscriber Refreshable) error {
	if name == "" {
		return ErrRefreshSubscriberNameEmpty
	}
	if subscriber == nil {
		return fmt.Errorf("%w: '%s'", ErrRefreshSubscriberNil, name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, existing := range o.subscribers {
		if existing.name == name {
			return fmt.Errorf("%w: '%s'", ErrRefreshSubscriberExists, name)
		}
	}

	o.subscribers = append(o.subscribers, refreshSubscriber{name: name, subscriber: subscriber})
	return nil
}

// Unsubscribe removes a subscriber by name.
func (o *RefreshOrchestrator) Unsubscribe(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, existing := range o.subscribers {
		if existing.name == name {
			o.subscribers = append(o.subscribers[:i], o.subscribers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: '%s'", ErrRefreshSubscriberMissing, name)
}

// SubscriberCount returns the number of registered subscribers.
func (o *RefreshOrchestrator) SubscriberCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subscribers)
}

// Refresh runs one refresh cycle for the given diff: re-feed affected
// config sections, then notify subscribers in order with the sorted
// changes. It returns once every subscriber has been notified, so the
// caller observes a fully applied refresh. An empty diff is a no-op.
func (o *RefreshOrchestrator) Refresh(ctx context.Context, trigger RefreshTrigger, diff *PropertyDiff) error {
	return o.run(ctx, trigger, diff, false)
}

// ForceRefresh runs a cycle even when no property changed: every config
// section is re-fed and every subscriber notified with an empty change
// list. Manual refreshes and mock resets use this.
func (o *RefreshOrchestrator) ForceRefresh(ctx context.Context, trigger RefreshTrigger) error {
	return o.run(ctx, trigger, NewPropertyDiff(), true)
}

func (o *RefreshOrchestrator) run(ctx context.Context, trigger RefreshTrigger, diff *PropertyDiff, force bool) error {
	o.mu.Lock()
	if o.inProgress {
		o.mu.Unlock()
		return ErrRefreshInProgress
	}
	o.inProgress = true
	subscribers := make([]refreshSubscriber, len(o.subscribers))
	copy(subscribers, o.subscribers)
	rebind := o.rebind
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inProgress = false
		o.mu.Unlock()
	}()

	refreshID := generateRefreshID()

	if !force && (diff == nil || diff.IsEmpty()) {
		o.logger.Debug("Refresh requested with no changes", "refreshId", refreshID, "trigger", trigger)
		o.emit(ctx, EventTypeRefreshNoop, RefreshNoopEvent{
			RefreshID: refreshID,
			Reason:    "no property changes",
		})
		return nil
	}

	start := time.Now()
	affectedKeys := diff.AffectedKeys()
	o.logger.Debug("Refresh started", "refreshId", refreshID, "trigger", trigger, "keys", affectedKeys)
	o.emit(ctx, EventTypeRefreshStarted, RefreshStartedEvent{
		RefreshID:    refreshID,
		Trigger:      trigger,
		AffectedKeys: affectedKeys,
	})

	var sections []string
	if rebind != nil {
		var err error
		sections, err = rebind(ctx, affectedKeys)
		if err != nil {
			o.emitFailure(ctx, refreshID, trigger, "", err, time.Since(start))
			return fmt.Errorf("re-feeding config sections: %w", err)
		}
	}

	changes := diff.Changes()
	for _, entry := range subscribers {
		if !entry.subscriber.CanRefresh() {
			o.logger.Debug("Skipping refresh subscriber", "refreshId", refreshID, "subscriber", entry.name)
			continue
		}

		timeout := entry.subscriber.RefreshTimeout()
		if timeout <= 0 {
			timeout = DefaultRefreshTimeout
		}

		subscriberCtx, cancel := context.WithTimeout(ctx, timeout)
		err := entry.subscriber.Refresh(subscriberCtx, changes)
		cancel()

		if err != nil {
			o.emitFailure(ctx, refreshID, trigger, entry.name, err, time.Since(start))
			return fmt.Errorf("refresh subscriber '%s': %w", entry.name, err)
		}
	}

	duration := time.Since(start)
	o.logger.Debug("Refresh completed", "refreshId", refreshID, "trigger", trigger, "duration", duration, "changes", len(changes))
	o.emit(ctx, EventTypeRefreshCompleted, RefreshCompletedEvent{
		RefreshID:         refreshID,
		Trigger:           trigger,
		Duration:          duration,
		ChangesApplied:    len(changes),
		SectionsRefreshed: sections,
		SubscriberCount:   len(subscribers),
	})

	return nil
}

func (o *RefreshOrchestrator) emitFailure(ctx context.Context, refreshID string, trigger RefreshTrigger, subscriber string, err error, duration time.Duration) {
	o.logger.Error("Refresh failed", "refreshId", refreshID, "trigger", trigger, "subscriber", subscriber, "error", err)
	o.emit(ctx, EventTypeRefreshFailed, RefreshFailedEvent{
		RefreshID:        refreshID,
		Trigger:          trigger,
		Error:            err.Error(),
		FailedSubscriber: subscriber,
		Duration:         duration,
	})
}

func (o *RefreshOrchestrator) emit(ctx context.Context, eventType string, data any) {
	o.mu.Lock()
	subject := o.subject
	o.mu.Unlock()

	if subject == nil {
		return
	}

	event := NewCloudEvent(eventType, "refresh-orchestrator", data, nil)
	if err := subject.NotifyObservers(ctx, event); err != nil {
		o.logger.Debug("Failed to publish refresh event", "eventType", eventType, "error", err)
	}
}

// generateRefreshID creates a unique identifier for a refresh cycle.
func generateRefreshID() string {
	return fmt.Sprintf("refresh-%d", time.Now().UnixNano())
}
