package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
)

// TransitionJobName is the built-in job that moves a case execution to a
// new state.
const TransitionJobName = "execution-transition"

// TransitionPayload is the payload of a TransitionJobName job.
type TransitionPayload struct {
	ExecutionID id.ExecutionID  `json:"executionId"`
	State       execution.State `json:"state"`
}

func registerTransitionJob(eng *Engine) {
	Register(eng, job.NewDefinition(TransitionJobName, func(ctx context.Context, p TransitionPayload) error {
		return eng.executions.Transition(ctx, p.ExecutionID, p.State)
	}))
}

// NewTransitionJob builds a job that moves e to state `to` when it runs.
// The job is bound to e and its instance, so it is serialized with the
// instance's other jobs when Config.Exclusive is set.
func (eng *Engine) NewTransitionJob(e *execution.Execution, to execution.State, opts ...job.Option) (*job.Job, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown execution state %q", bpmcore.ErrValidation, to)
	}
	payload, err := json.Marshal(TransitionPayload{ExecutionID: e.ID, State: to})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal transition payload: %w", bpmcore.ErrValidation, err)
	}
	opts = append([]job.Option{job.WithExecution(e.ID, e.InstanceScope())}, opts...)
	return eng.NewJob(TransitionJobName, payload, opts...)
}

// EnqueueTransition enqueues a job that moves e to state `to`.
func (eng *Engine) EnqueueTransition(ctx context.Context, e *execution.Execution, to execution.State, opts ...job.Option) (*job.Job, error) {
	j, err := eng.NewTransitionJob(e, to, opts...)
	if err != nil {
		return nil, err
	}
	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, bpmcore.Fault("enqueue job", err)
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.hintIfDue(j)
	return j, nil
}
