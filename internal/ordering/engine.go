// Package ordering computes per-session display orders for orderable
// sets (questions on a page, options/items/scales on a question) and
// caches them so a respondent sees a stable order for the lifetime of
// their session.
package ordering

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"math/rand/v2"

	"github.com/canvass/canvass/pkg/schema"
)

// Item is one orderable element.
type Item struct {
	ID       string
	GroupKey string
	Weight   float64
}

// RenderStateStore persists per-session computed orders. PutIfAbsent
// must be atomic: when two callers race on the same key, both must end
// up observing the same winning order.
type RenderStateStore interface {
	GetRenderState(ctx context.Context, sessionID, cacheKey string) (*schema.CachedOrder, error)
	PutRenderStateIfAbsent(ctx context.Context, sessionID, cacheKey string, order *schema.CachedOrder) (*schema.CachedOrder, error)
}

// Engine computes orders per mode and caches them through the store.
// Safe for concurrent use.
type Engine struct {
	store  RenderStateStore
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an Engine. rng may be nil, in which case a freshly
// seeded source is used; tests inject a fixed seed.
func NewEngine(store RenderStateStore, rng *rand.Rand, logger *slog.Logger) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, rng: rng, logger: logger}
}

// Order returns the item IDs in display order for (sessionID, cacheKey).
// A previously cached order is returned unchanged regardless of the
// current mode or item set; otherwise the order is computed per mode and
// written compute-if-absent. Cache write failure is non-fatal: the
// computed order is still returned.
func (e *Engine) Order(ctx context.Context, sessionID, cacheKey string, items []Item, mode schema.OrderMode) ([]string, error) {
	cached, err := e.store.GetRenderState(ctx, sessionID, cacheKey)
	if err == nil {
		return cached.Order, nil
	}
	if !schema.IsNotFound(err) {
		// Read fault: treat as absent and recompute. The subsequent
		// put-if-absent keeps idempotence when the store recovers.
		e.logger.Warn("render state read failed",
			slog.String("session_id", sessionID),
			slog.String("cache_key", cacheKey),
			slog.String("error", err.Error()))
	}

	order, err := e.compute(items, mode)
	if err != nil {
		return nil, err
	}

	winner, err := e.store.PutRenderStateIfAbsent(ctx, sessionID, cacheKey, &schema.CachedOrder{
		Order:      order,
		Mode:       mode,
		ComputedAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn("render state write failed; order not cached",
			slog.String("session_id", sessionID),
			slog.String("cache_key", cacheKey),
			slog.String("error", err.Error()))
		return order, nil
	}
	return winner.Order, nil
}

func (e *Engine) compute(items []Item, mode schema.OrderMode) ([]string, error) {
	switch mode {
	case schema.OrderSequential:
		return ids(items), nil
	case schema.OrderRandom:
		return e.shuffleAll(items), nil
	case schema.OrderGroupRandom:
		return e.shuffleGroups(items), nil
	case schema.OrderWeighted:
		return sortByWeight(items), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown order mode %q", string(mode))
}

// shuffleAll is a uniform Fisher-Yates shuffle over the full set,
// ignoring any grouping.
func (e *Engine) shuffleAll(items []Item) []string {
	out := ids(items)
	e.mu.Lock()
	e.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	e.mu.Unlock()
	return out
}

// shuffleGroups shuffles whole groups as atomic blocks, preserving the
// original order inside each group. Ungrouped items follow all groups,
// in their original relative order.
func (e *Engine) shuffleGroups(items []Item) []string {
	var groupKeys []string
	groups := make(map[string][]string)
	var ungrouped []string

	for _, it := range items {
		if it.GroupKey == "" {
			ungrouped = append(ungrouped, it.ID)
			continue
		}
		if _, seen := groups[it.GroupKey]; !seen {
			groupKeys = append(groupKeys, it.GroupKey)
		}
		groups[it.GroupKey] = append(groups[it.GroupKey], it.ID)
	}

	e.mu.Lock()
	e.rng.Shuffle(len(groupKeys), func(i, j int) {
		groupKeys[i], groupKeys[j] = groupKeys[j], groupKeys[i]
	})
	e.mu.Unlock()

	out := make([]string, 0, len(items))
	for _, key := range groupKeys {
		out = append(out, groups[key]...)
	}
	return append(out, ungrouped...)
}

// sortByWeight is a deterministic stable sort, descending by weight.
// Items without a weight default to 1. This is ordering by weight, not
// probabilistic weighted sampling.
func sortByWeight(items []Item) []string {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return effectiveWeight(sorted[i]) > effectiveWeight(sorted[j])
	})
	return ids(sorted)
}

func effectiveWeight(it Item) float64 {
	if it.Weight == 0 {
		return 1
	}
	return it.Weight
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
