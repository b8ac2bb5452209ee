package saga

import (
	"context"
	"time"
)

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStateRunning   SagaState = "running"
	SagaStateCompleted SagaState = "completed"
	SagaStateFailed    SagaState = "failed"
)

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateCompleted StepState = "completed"
	StepStateFailed    StepState = "failed"
	StepStateSkipped   StepState = "skipped"
)

// SagaID uniquely identifies a saga instance
type SagaID string

// StepID uniquely identifies a step within a saga
type StepID string

// Step is one stage of a saga working on shared state S
type Step[S any] interface {
	ID() StepID
	Execute(ctx context.Context, state *S) error
}

// StepFunc adapts a function to a Step
type StepFunc[S any] struct {
	Name StepID
	Fn   func(ctx context.Context, state *S) error
}

func (f StepFunc[S]) ID() StepID { return f.Name }

func (f StepFunc[S]) Execute(ctx context.Context, state *S) error { return f.Fn(ctx, state) }

// SagaInstance is the record of one run
type SagaInstance struct {
	ID          SagaID          `json:"id"`
	Definition  string          `json:"definition"`
	State       SagaState       `json:"state"`
	Steps       []StepExecution `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Error       string          `json:"error,omitempty"`
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID        StepID        `json:"id"`
	State     StepState     `json:"state"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Executed reports whether the step ran, successfully or not
func (s StepExecution) Executed() bool {
	return s.State == StepStateCompleted || s.State == StepStateFailed
}

// SagaEvent represents an event in the saga lifecycle
type SagaEvent struct {
	SagaID    SagaID    `json:"saga_id"`
	StepID    StepID    `json:"step_id,omitempty"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// Event types
const (
	EventSagaStarted   = "saga_started"
	EventSagaCompleted = "saga_completed"
	EventSagaFailed    = "saga_failed"
	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
)

// EventHandler observes saga events on the goroutine running the saga
type EventHandler func(SagaEvent)
