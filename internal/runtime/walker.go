package runtime

import (
	"context"

	"github.com/canvass/canvass/internal/nav"
	"github.com/canvass/canvass/pkg/schema"
)

// defaultMaxHops bounds a single advance request. The resolver performs
// one hop per call and never loops internally; this guard caps how many
// hops the runtime chains before giving up on a badly authored survey.
const defaultMaxHops = 64

// Walker chains one-hop resolutions until the respondent lands on a
// question or the survey ends. Page positions are transient: a respondent
// is never left standing on a page.
type Walker struct {
	resolver *nav.Resolver
	maxHops  int
}

// NewWalker creates a Walker over one survey's resolver. maxHops <= 0
// selects the default bound.
func NewWalker(resolver *nav.Resolver, maxHops int) *Walker {
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	return &Walker{resolver: resolver, maxHops: maxHops}
}

// Advance resolves from pos until reaching a question or TERMINAL.
// Exceeding the hop bound returns HOP_LIMIT_EXCEEDED.
func (w *Walker) Advance(ctx context.Context, sessionID string, pos schema.Position, answers schema.AnswerSet) (schema.Position, error) {
	for hop := 0; hop < w.maxHops; hop++ {
		next, err := w.resolver.ResolveNext(ctx, sessionID, pos, answers)
		if err != nil {
			return schema.Position{}, err
		}
		if next.Kind != schema.AtPage {
			return next, nil
		}
		pos = next
	}
	return schema.Position{}, schema.NewErrorf(schema.ErrCodeHopLimit,
		"no question reached within %d hops; check the survey's jump rules", w.maxHops).
		WithDetails(map[string]any{"session_id": sessionID, "max_hops": w.maxHops})
}
