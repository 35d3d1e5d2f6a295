package schemas

import "encoding/json"

// -- Server Wire Schemas --

// RegisterRequest announces a new agent instance to the task server.
type RegisterRequest struct {
	Name         string   `json:"name"`
	InstanceID   string   `json:"instance_id"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// RegisterResponse carries the server-assigned agent id.
type RegisterResponse struct {
	Success bool   `json:"success"`
	AgentID string `json:"agent_id"`
	Error   string `json:"error,omitempty"`
}

// GetTaskRequest asks for at most one task for the listed logged-in platforms.
type GetTaskRequest struct {
	AgentID   string   `json:"agent_id"`
	Platforms []string `json:"platforms"`
	Version   string   `json:"version"`
}

// GetTaskResponse holds an optional task. The payload stays raw so the validator
// judges exactly what the server sent.
type GetTaskResponse struct {
	Success bool            `json:"success"`
	HasTask bool            `json:"has_task"`
	Task    json.RawMessage `json:"task,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ReportStatusRequest reports the terminal status of one task.
type ReportStatusRequest struct {
	AgentID string     `json:"agent_id"`
	TaskID  string     `json:"task_id"`
	Status  TaskStatus `json:"status"`
	Error   string     `json:"error,omitempty"`
}

// HeartbeatRequest tells the server the agent is alive.
type HeartbeatRequest struct {
	AgentID   string   `json:"agent_id"`
	Platforms []string `json:"platforms"`
	Version   string   `json:"version"`
}

// HeartbeatResponse may hint at queued work.
type HeartbeatResponse struct {
	Success      bool `json:"success"`
	PendingTasks int  `json:"pending_tasks"`
}

// PlatformRequest tells the server an account on a platform is available to this agent.
type PlatformRequest struct {
	AgentID     string `json:"agent_id"`
	Platform    string `json:"platform"`
	AccountName string `json:"account_name"`
}

// Ack is the minimal acknowledgement returned by status reports and platform updates.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
