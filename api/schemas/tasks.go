package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Task Schemas --

// TaskType defines the kind of action a task asks a platform dispatcher to perform.
type TaskType string

const (
	TaskPost    TaskType = "post"
	TaskLike    TaskType = "like"
	TaskComment TaskType = "comment"
	TaskShare   TaskType = "share"
	TaskStory   TaskType = "story"
)

// AllTaskTypes is the closed action enumeration accepted by the validator.
var AllTaskTypes = []TaskType{TaskPost, TaskLike, TaskComment, TaskShare, TaskStory}

// ParseTaskType resolves a task type case-insensitively.
func ParseTaskType(s string) (TaskType, error) {
	candidate := TaskType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range AllTaskTypes {
		if t == candidate {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported task type: %q", s)
}

// NeedsMedia reports whether the action publishes media by nature.
// Platforms may add their own media requirements on top of this.
func (t TaskType) NeedsMedia() bool {
	return t == TaskStory
}

// Content is the publishable payload of a task.
type Content struct {
	Text      string   `json:"text,omitempty"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// HasMedia reports whether at least one media URL is attached.
func (c Content) HasMedia() bool {
	return len(c.MediaURLs) > 0
}

// Task is one server-issued unit of work. It is immutable once validated and lives only
// for a single fetch-validate-execute-report cycle.
type Task struct {
	ID        string     `json:"id"`
	Platform  PlatformID `json:"platform"`
	Type      TaskType   `json:"task_type"`
	TargetURL string     `json:"target_url,omitempty"`
	Content   Content    `json:"content"`
}

// Summary builds the compact record kept in the run state.
func (t Task) Summary(status TaskStatus, errMsg string, at time.Time) TaskSummary {
	return TaskSummary{
		ID:         t.ID,
		Platform:   t.Platform,
		Type:       t.Type,
		Status:     status,
		Error:      errMsg,
		FinishedAt: at.UTC(),
	}
}

// TaskStatus is the terminal status reported back to the server.
type TaskStatus string

const (
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusRejected  TaskStatus = "rejected"
)

// TaskSummary is the last-task record surfaced to status consumers.
type TaskSummary struct {
	ID         string     `json:"id"`
	Platform   PlatformID `json:"platform,omitempty"`
	Type       TaskType   `json:"task_type,omitempty"`
	Status     TaskStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
}

// ValidationResult is produced and consumed synchronously by the validator gate.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Accept is the canonical accepting result.
func Accept() ValidationResult { return ValidationResult{Valid: true} }

// Reject builds a rejecting result with a formatted reason.
func Reject(format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

// ActionOutcome is the terminal value of one task's execution.
type ActionOutcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Succeeded is the successful outcome.
func Succeeded() ActionOutcome { return ActionOutcome{Success: true} }

// Failed converts an error into a failed outcome.
func Failed(err error) ActionOutcome {
	if err == nil {
		return ActionOutcome{Success: false, Error: "unknown error"}
	}
	return ActionOutcome{Success: false, Error: err.Error()}
}

// Status maps the outcome onto the reporting vocabulary.
func (o ActionOutcome) Status() TaskStatus {
	if o.Success {
		return StatusCompleted
	}
	return StatusFailed
}
