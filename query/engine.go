package query

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
)

// Page selects a window of the ordered result. MaxResults of zero means
// no limit.
type Page struct {
	FirstResult int
	MaxResults  int
}

// Engine evaluates queries against an execution store. It never mutates
// state.
type Engine struct {
	store execution.Store
}

// NewEngine creates a query engine reading from store.
func NewEngine(store execution.Store) *Engine {
	return &Engine{store: store}
}

// List returns the page of executions matching q in its order. Ties are
// broken by execution ID ascending.
func (e *Engine) List(ctx context.Context, q Query, page Page) ([]*execution.Execution, error) {
	if page.FirstResult < 0 || page.MaxResults < 0 {
		return nil, fmt.Errorf("%w: firstResult and maxResults must not be negative", bpmcore.ErrValidation)
	}
	matched, err := e.evaluate(ctx, q)
	if err != nil {
		return nil, err
	}

	orders := q.orders
	slices.SortStableFunc(matched, func(a, b *execution.Execution) int {
		for _, o := range orders {
			c := compareField(a, b, o.Field)
			if o.Direction == Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return a.ID.Compare(b.ID)
	})

	if page.FirstResult >= len(matched) {
		return []*execution.Execution{}, nil
	}
	matched = matched[page.FirstResult:]
	if page.MaxResults > 0 && page.MaxResults < len(matched) {
		matched = matched[:page.MaxResults]
	}
	return matched, nil
}

// Count returns the number of executions matching q.
func (e *Engine) Count(ctx context.Context, q Query) (int64, error) {
	matched, err := e.evaluate(ctx, q)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func (e *Engine) evaluate(ctx context.Context, q Query) ([]*execution.Execution, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	snaps, err := e.store.SnapshotExecutions(ctx, q.filter)
	if err != nil {
		return nil, bpmcore.Fault("snapshot executions", err)
	}

	out := make([]*execution.Execution, 0, len(snaps))
	for _, s := range snaps {
		if matches(q, s) {
			out = append(out, s.Execution)
		}
	}
	return out, nil
}

func matches(q Query, s execution.Snapshot) bool {
	if s.Execution == nil || !q.filter.Matches(s.Execution) {
		return false
	}
	for _, p := range q.preds {
		vars := s.Local
		if p.scope == ScopeInstance {
			vars = s.Instance
		}
		if !p.Matches(vars) {
			return false
		}
	}
	return true
}

func compareField(a, b *execution.Execution, f Field) int {
	switch f {
	case FieldExecutionID:
		return a.ID.Compare(b.ID)
	case FieldDefinitionKey:
		return strings.Compare(a.DefinitionKey, b.DefinitionKey)
	case FieldDefinitionID:
		return strings.Compare(a.DefinitionID, b.DefinitionID)
	default:
		return 0
	}
}
