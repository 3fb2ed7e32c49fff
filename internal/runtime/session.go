// Package runtime drives respondent sessions: the lifecycle state
// machine, answer recording and bounded navigation over the one-hop
// resolver.
package runtime

import (
	"context"
	"sync"

	"github.com/canvass/canvass/pkg/schema"
)

// TransitionHook is called before or after a session transition.
type TransitionHook func(from, to schema.SessionStatus) error

// EventAppender is satisfied by the Store; used by the FSM to emit
// lifecycle events on transitions.
type EventAppender interface {
	AppendSessionEvent(ctx context.Context, e *schema.SessionEvent) error
}

type hookKey struct {
	from, to schema.SessionStatus
}

// SessionFSM manages session lifecycle transitions. The caller persists
// the new status to the store after a successful transition.
type SessionFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewSessionFSM creates a SessionFSM that emits events via the appender.
func NewSessionFSM(appender EventAppender) *SessionFSM {
	return &SessionFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *SessionFSM) OnBefore(from, to schema.SessionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *SessionFSM) OnAfter(from, to schema.SessionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a session state transition, emitting
// the corresponding lifecycle event.
func (f *SessionFSM) Transition(ctx context.Context, sessionID string, from, to schema.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", from, to).
			WithDetails(map[string]any{"session_id": sessionID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if eventType := sessionEventType(from, to); eventType != "" {
		event := &schema.SessionEvent{
			SessionID: sessionID,
			Type:      eventType,
		}
		if err := f.appender.AppendSessionEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit session event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	return nil
}

func isValidTransition(from, to schema.SessionStatus) bool {
	allowed, ok := schema.ValidSessionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func sessionEventType(from, to schema.SessionStatus) string {
	switch to {
	case schema.SessionCompleted:
		return schema.EventSessionCompleted
	case schema.SessionAbandoned:
		return schema.EventSessionAbandoned
	case schema.SessionExpired:
		return schema.EventSessionExpired
	case schema.SessionActive:
		if from == schema.SessionAbandoned {
			return schema.EventSessionResumed
		}
		return ""
	default:
		return ""
	}
}
