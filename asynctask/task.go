// File: asynctask/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stage machine for one asynchronous protocol exchange.
//
// Stages run PreExecute, Interrupted, Execute, PostExecute and Finish in that
// order. PostExecute loops back to PreExecute while pipelined work remains.
// Errors in PreExecute or Interrupted abort the exchange and go straight to
// Finish; errors in Execute or PostExecute are returned to the caller since
// the exchange has already been committed.

package asynctask

import (
	"errors"
	"fmt"
	"sync"
)

// Stage is a step of the exchange.
type Stage int

const (
	PreExecute Stage = iota
	Interrupted
	Execute
	PostExecute
	Finish
	Done
)

func (s Stage) String() string {
	switch s {
	case PreExecute:
		return "PRE_EXECUTE"
	case Interrupted:
		return "INTERRUPTED"
	case Execute:
		return "EXECUTE"
	case PostExecute:
		return "POST_EXECUTE"
	case Finish:
		return "FINISH"
	case Done:
		return "DONE"
	}
	return "UNKNOWN"
}

// Outcome reports where Run stopped.
type Outcome int

const (
	// Finished means the task reached Done.
	Finished Outcome = iota
	// Suspended means Interrupted asked to wait; call Run again to resume
	// at Execute.
	Suspended
)

// ErrTaskDone is returned by Run on a task that already finished.
var ErrTaskDone = errors.New("asynctask: task already finished")

// Handler supplies the work of each stage.
type Handler interface {
	PreExecute(t *Task) error
	// Interrupted reports whether the exchange must wait for an external
	// trigger before Execute.
	Interrupted(t *Task) (suspend bool, err error)
	Execute(t *Task) error
	// PostExecute reports whether pipelined work remains.
	PostExecute(t *Task) (more bool, err error)
	// Finish releases resources. It runs once per exchange, also after an
	// aborted stage.
	Finish(t *Task)
}

// Task is one exchange. It is not safe for concurrent Run calls; callers
// serialise Run and Resume through the connection's processing gate.
type Task struct {
	mu      sync.Mutex
	handler Handler
	stage   Stage
	abort   error
	loops   int
	value   any
}

// New creates a task at PreExecute.
func New(h Handler) *Task {
	return &Task{handler: h}
}

// Stage returns the next stage to run.
func (t *Task) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// Aborted returns the non-fatal error that sent the task to Finish, if any.
func (t *Task) Aborted() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abort
}

// Iterations counts completed PreExecute..PostExecute rounds.
func (t *Task) Iterations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loops
}

// Value and SetValue carry data between stages.
func (t *Task) Value() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *Task) SetValue(v any) {
	t.mu.Lock()
	t.value = v
	t.mu.Unlock()
}

// Reset recycles the task for a new exchange.
func (t *Task) Reset(h Handler) {
	t.mu.Lock()
	t.handler, t.stage, t.abort, t.loops, t.value = h, PreExecute, nil, 0, nil
	t.mu.Unlock()
}

func (t *Task) setStage(s Stage) {
	t.mu.Lock()
	t.stage = s
	t.mu.Unlock()
}

// Run drives the task from its current stage until it suspends, finishes
// or fails.
func (t *Task) Run() (Outcome, error) {
	for {
		switch stage := t.Stage(); stage {
		case PreExecute:
			if err := t.handler.PreExecute(t); err != nil {
				t.abortWith(stage, err)
				continue
			}
			t.setStage(Interrupted)

		case Interrupted:
			suspend, err := t.handler.Interrupted(t)
			if err != nil {
				t.abortWith(stage, err)
				continue
			}
			t.setStage(Execute)
			if suspend {
				return Suspended, nil
			}

		case Execute:
			if err := t.handler.Execute(t); err != nil {
				return Finished, t.fail(stage, err)
			}
			t.setStage(PostExecute)

		case PostExecute:
			more, err := t.handler.PostExecute(t)
			if err != nil {
				return Finished, t.fail(stage, err)
			}
			t.mu.Lock()
			t.loops++
			t.mu.Unlock()
			if more {
				t.setStage(PreExecute)
			} else {
				t.setStage(Finish)
			}

		case Finish:
			t.handler.Finish(t)
			t.setStage(Done)
			return Finished, nil

		case Done:
			return Finished, ErrTaskDone
		}
	}
}

func (t *Task) abortWith(stage Stage, err error) {
	t.mu.Lock()
	t.abort = fmt.Errorf("%s: %w", stage, err)
	t.stage = Finish
	t.mu.Unlock()
}

// fail runs Finish for cleanup and returns the stage error.
func (t *Task) fail(stage Stage, err error) error {
	t.handler.Finish(t)
	t.setStage(Done)
	return fmt.Errorf("asynctask %s: %w", stage, err)
}
