package bus

import (
	"time"

	"github.com/xkilldash9x/herald/api/schemas"
)

// MessageType names a kind of message on the bus.
type MessageType string

const (
	// TypeExecuteTask carries an ExecuteTask from the orchestrator to the tab worker.
	TypeExecuteTask MessageType = "EXECUTE_TASK"
	// TypeTaskResult carries a TaskResult back.
	TypeTaskResult MessageType = "TASK_RESULT"
	// TypeStateChanged carries a redacted schemas.RunState after each transition.
	TypeStateChanged MessageType = "STATE_CHANGED"
)

// ExecuteTask asks the worker bound to TargetID to run Task.
type ExecuteTask struct {
	TargetID string
	Task     schemas.Task
	// Deadline bounds the dispatcher run when non-zero.
	Deadline time.Time
}

// TaskResult is the reverse channel for an ExecuteTask.
type TaskResult struct {
	TaskID  string
	Success bool
	Error   string
}

// Outcome converts the result into an ActionOutcome.
func (r TaskResult) Outcome() schemas.ActionOutcome {
	return schemas.ActionOutcome{Success: r.Success, Error: r.Error}
}

// ResultFor builds the TaskResult for an outcome.
func ResultFor(taskID string, out schemas.ActionOutcome) TaskResult {
	return TaskResult{TaskID: taskID, Success: out.Success, Error: out.Error}
}
