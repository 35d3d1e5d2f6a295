package schemas

import "time"

// StateVersion is the current version of the persisted run-state record.
// Version 2 moved the credential out of State into SealedCredentials.
const StateVersion = 2

// Stats holds the monotonically growing execution counters.
type Stats struct {
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// RunState is the orchestrator's persisted view of the agent.
type RunState struct {
	Running         bool         `json:"running"`
	Credentials     string       `json:"credentials,omitempty"`
	AgentID         string       `json:"agent_id,omitempty"`
	InstanceID      string       `json:"instance_id,omitempty"`
	ActivePlatforms []PlatformID `json:"active_platforms"`
	LastPollAt      *time.Time   `json:"last_poll_at,omitempty"`
	LastTask        *TaskSummary `json:"last_task,omitempty"`
	Stats           Stats        `json:"stats"`
}

// Clone returns a deep copy so callers never share slices or pointers with the owner.
func (s RunState) Clone() RunState {
	out := s
	if s.ActivePlatforms != nil {
		out.ActivePlatforms = append([]PlatformID(nil), s.ActivePlatforms...)
	}
	if s.LastPollAt != nil {
		t := *s.LastPollAt
		out.LastPollAt = &t
	}
	if s.LastTask != nil {
		lt := *s.LastTask
		out.LastTask = &lt
	}
	return out
}

// Redacted hides the credential for display and broadcast.
func (s RunState) Redacted() RunState {
	out := s.Clone()
	if out.Credentials != "" {
		out.Credentials = "********"
	}
	return out
}

// StateRecord is the single versioned record written to the key-value store.
type StateRecord struct {
	Version           int       `json:"version"`
	SavedAt           time.Time `json:"saved_at"`
	State             RunState  `json:"state"`
	SealedCredentials string    `json:"sealed_credentials,omitempty"`
}
