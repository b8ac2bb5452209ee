package saga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StepError reports which step stopped a saga
type StepError struct {
	Step StepID
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner executes a fixed sequence of steps in order on the caller's goroutine.
// The first failing step stops the saga; later steps are marked skipped.
type Runner[S any] struct {
	definition string
	steps      []Step[S]
	logger     *zap.Logger
}

// NewRunner creates a runner for the named definition
func NewRunner[S any](definition string, logger *zap.Logger, steps ...Step[S]) *Runner[S] {
	return &Runner[S]{
		definition: definition,
		steps:      steps,
		logger:     logger,
	}
}

// Definition returns the saga name
func (r *Runner[S]) Definition() string {
	return r.definition
}

// Run executes the steps against state. The returned instance is always
// non-nil; the error is a *StepError when a step failed.
func (r *Runner[S]) Run(ctx context.Context, id SagaID, state *S, onEvent EventHandler) (*SagaInstance, error) {
	emit := func(event SagaEvent) {
		if onEvent != nil {
			onEvent(event)
		}
	}

	instance := &SagaInstance{
		ID:         id,
		Definition: r.definition,
		State:      SagaStateRunning,
		Steps:      make([]StepExecution, len(r.steps)),
		StartedAt:  time.Now(),
	}
	for i, step := range r.steps {
		instance.Steps[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}

	emit(SagaEvent{SagaID: id, Type: EventSagaStarted, Timestamp: instance.StartedAt})

	for i, step := range r.steps {
		err := ctx.Err()
		if err == nil {
			err = r.executeStep(ctx, id, &instance.Steps[i], step, state, emit)
		} else {
			instance.Steps[i].State = StepStateFailed
			instance.Steps[i].StartedAt = time.Now()
			instance.Steps[i].Error = err.Error()
		}

		if err != nil {
			for j := i + 1; j < len(instance.Steps); j++ {
				instance.Steps[j].State = StepStateSkipped
			}

			stepErr := &StepError{Step: step.ID(), Err: err}
			instance.State = SagaStateFailed
			instance.Error = stepErr.Error()
			instance.CompletedAt = time.Now()

			r.logger.Warn("Saga failed",
				zap.String("sagaID", string(id)),
				zap.String("definition", r.definition),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			emit(SagaEvent{SagaID: id, StepID: step.ID(), Type: EventSagaFailed, Timestamp: instance.CompletedAt, Err: err})

			return instance, stepErr
		}
	}

	instance.State = SagaStateCompleted
	instance.CompletedAt = time.Now()

	r.logger.Debug("Saga completed",
		zap.String("sagaID", string(id)),
		zap.String("definition", r.definition),
		zap.Duration("elapsed", instance.CompletedAt.Sub(instance.StartedAt)))
	emit(SagaEvent{SagaID: id, Type: EventSagaCompleted, Timestamp: instance.CompletedAt})

	return instance, nil
}

func (r *Runner[S]) executeStep(ctx context.Context, id SagaID, exec *StepExecution, step Step[S], state *S, emit EventHandler) error {
	exec.State = StepStateRunning
	exec.StartedAt = time.Now()
	emit(SagaEvent{SagaID: id, StepID: step.ID(), Type: EventStepStarted, Timestamp: exec.StartedAt})

	err := step.Execute(ctx, state)
	exec.Duration = time.Since(exec.StartedAt)

	if err != nil {
		exec.State = StepStateFailed
		exec.Error = err.Error()
		emit(SagaEvent{SagaID: id, StepID: step.ID(), Type: EventStepFailed, Timestamp: time.Now(), Err: err})
		return err
	}

	exec.State = StepStateCompleted
	r.logger.Debug("Step completed",
		zap.String("sagaID", string(id)),
		zap.String("stepID", string(step.ID())),
		zap.Duration("elapsed", exec.Duration))
	emit(SagaEvent{SagaID: id, StepID: step.ID(), Type: EventStepCompleted, Timestamp: time.Now()})

	return nil
}
