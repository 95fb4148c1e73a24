package main

import (
	"context"

	"github.com/inferno-ml/inferno/broker"
)

// Dispatcher turns an accepted submission into a queued job envelope.
// Stateless: it selects the queue from the priority class and
// publishes without waiting for acknowledgment.
type Dispatcher struct {
	publisher broker.Publisher
}

// NewDispatcher wires the dispatcher to a queue publisher.
func NewDispatcher(publisher broker.Publisher) *Dispatcher {
	return &Dispatcher{publisher: publisher}
}

// Dispatch enqueues the task on "gpu-"+priority with the numeric
// priority for that class.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string, req *TaskRequest) error {
	env := &broker.JobEnvelope{
		TaskID:      taskID,
		Model:       req.Model,
		Input:       req.Input,
		CallbackURL: req.CallbackURL,
		Priority:    broker.NumericPriority(req.Priority),
	}
	return d.publisher.Publish(ctx, broker.QueueForPriority(req.Priority), env)
}
