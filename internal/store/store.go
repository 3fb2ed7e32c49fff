package store

import (
	"context"
	"time"

	"github.com/canvass/canvass/pkg/schema"
)

// SessionUpdate is a partial update applied to a session row. Nil fields
// are left unchanged.
type SessionUpdate struct {
	Status            *schema.SessionStatus
	CurrentQuestionID *string
	CurrentPageID     *string
	TouchLastSeen     bool
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Surveys
	CreateSurvey(ctx context.Context, s *schema.Survey) error
	GetSurvey(ctx context.Context, id string) (*schema.Survey, error)
	DeleteSurvey(ctx context.Context, id string) error

	// Pages
	CreatePage(ctx context.Context, p *schema.Page) error
	ListPages(ctx context.Context, surveyID string) ([]*schema.Page, error)

	// Questions
	CreateQuestion(ctx context.Context, q *schema.Question) error
	GetQuestion(ctx context.Context, id string) (*schema.Question, error)
	ListQuestions(ctx context.Context, surveyID string) ([]*schema.Question, error)

	// Expressions
	CreateExpression(ctx context.Context, e *schema.Expression) error
	GetExpression(ctx context.Context, id string) (*schema.Expression, error)
	ListExpressions(ctx context.Context, surveyID string) ([]*schema.Expression, error)

	// Jumps. CreateJump assigns Seq, the creation order that breaks
	// priority ties.
	CreateJump(ctx context.Context, j *schema.Jump) error
	ListJumps(ctx context.Context, surveyID string) ([]*schema.Jump, error)

	// Sessions
	CreateSession(ctx context.Context, s *schema.Session) error
	GetSession(ctx context.Context, id string) (*schema.Session, error)
	UpdateSession(ctx context.Context, id string, update SessionUpdate) error
	ListIdleSessions(ctx context.Context, seenBefore time.Time, limit int) ([]*schema.Session, error)

	// Answers
	UpsertAnswer(ctx context.Context, a *schema.Answer) error
	ListAnswers(ctx context.Context, sessionID string) ([]*schema.Answer, error)

	// Render state (compute-if-absent: an existing row always wins)
	GetRenderState(ctx context.Context, sessionID, cacheKey string) (*schema.CachedOrder, error)
	PutRenderStateIfAbsent(ctx context.Context, sessionID, cacheKey string, order *schema.CachedOrder) (*schema.CachedOrder, error)

	// Session audit log (append-only)
	AppendSessionEvent(ctx context.Context, e *schema.SessionEvent) error
	ListSessionEvents(ctx context.Context, sessionID string) ([]*schema.SessionEvent, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
