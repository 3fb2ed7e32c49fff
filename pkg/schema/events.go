package schema

import "time"

// Session lifecycle event types, appended to the per-session audit log.
const (
	EventSessionStarted   = "session.started"
	EventSessionResumed   = "session.resumed"
	EventSessionCompleted = "session.completed"
	EventSessionAbandoned = "session.abandoned"
	EventSessionExpired   = "session.expired"
	EventAnswerRecorded   = "answer.recorded"
	EventJumpTaken        = "jump.taken"
)

// SessionEvent is one entry in a session's append-only audit log.
type SessionEvent struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Type       string    `json:"type"`
	QuestionID string    `json:"question_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
