package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/INLOpen/casc/core"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// Read path events
	EventPreGet            EventType = "PreGet"
	EventPostGet           EventType = "PostGet"
	EventOnIntegrityError  EventType = "OnIntegrityError"
	EventOnIndexTruncation EventType = "OnIndexTruncation"

	// Store lifecycle events
	EventPostOpen  EventType = "PostOpen"
	EventPreClose  EventType = "PreClose"
	EventPostClose EventType = "PostClose"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// Pre-hooks run synchronously and their first error is returned.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookListener receives the events it was registered for.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners of the same event, lowest first.
	Priority() int
	// IsAsync asks for the listener to run on its own goroutine. Pre-hooks
	// ignore it.
	IsAsync() bool
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreGetPayload contains the data for a PreGet event. A listener returning an
// error refuses the read.
type PreGetPayload struct {
	Key core.Key
}

func NewPreGetEvent(payload PreGetPayload) HookEvent {
	return &BaseEvent{eventType: EventPreGet, payload: payload}
}

// PostGetPayload contains the data for a PostGet event.
type PostGetPayload struct {
	Key      core.Key
	Found    bool
	Bytes    int
	CacheHit bool
	Error    error
}

func NewPostGetEvent(payload PostGetPayload) HookEvent {
	return &BaseEvent{eventType: EventPostGet, payload: payload}
}

// IntegrityErrorPayload names the record whose verification failed.
type IntegrityErrorPayload struct {
	Key    core.Key
	File   uint32
	Offset uint64
	Error  error
}

func NewOnIntegrityErrorEvent(payload IntegrityErrorPayload) HookEvent {
	return &BaseEvent{eventType: EventOnIntegrityError, payload: payload}
}

// IndexTruncationPayload names an index file whose entries block ended early.
type IndexTruncationPayload struct {
	Bucket  uint8
	Path    string
	Entries int
}

func NewOnIndexTruncationEvent(payload IndexTruncationPayload) HookEvent {
	return &BaseEvent{eventType: EventOnIndexTruncation, payload: payload}
}

// PostOpenPayload describes a freshly opened store.
type PostOpenPayload struct {
	Root        string
	Entries     int
	DataFiles   int
	Generations []uint32
}

func NewPostOpenEvent(payload PostOpenPayload) HookEvent {
	return &BaseEvent{eventType: EventPostOpen, payload: payload}
}

// ClosePayload names the store being closed.
type ClosePayload struct {
	Root string
}

func NewPreCloseEvent(payload ClosePayload) HookEvent {
	return &BaseEvent{eventType: EventPreClose, payload: payload}
}

func NewPostCloseEvent(payload ClosePayload) HookEvent {
	return &BaseEvent{eventType: EventPostClose, payload: payload}
}

// ListenerFunc adapts a function to a synchronous HookListener of priority 0.
type ListenerFunc func(ctx context.Context, event HookEvent) error

func (f ListenerFunc) OnEvent(ctx context.Context, event HookEvent) error { return f(ctx, event) }
func (f ListenerFunc) Priority() int                                      { return 0 }
func (f ListenerFunc) IsAsync() bool                                      { return false }

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// Slices are kept sorted by priority and replaced, never mutated.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	// Insert after listeners of equal priority so registration order holds.
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})
	// Trigger iterates snapshots without the lock, so never write into l.
	next := make([]*listenerWithPriority, 0, len(l)+1)
	next = append(next, l[:idx]...)
	next = append(next, item)
	next = append(next, l[idx:]...)
	m.listeners[eventType] = next
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		m.wg.Add(1)
		go func(currentItem *listenerWithPriority) {
			defer m.wg.Done()
			if err := currentItem.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
