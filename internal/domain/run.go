package domain

// RunStatus is the lifecycle state of one asynchronous assistant run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunExpired    RunStatus = "expired"
	RunCancelled  RunStatus = "cancelled"
)

// RunState is a point-in-time view of a run as reported by the remote service.
// LastError is only populated for failed runs.
type RunState struct {
	ID        string
	Status    RunStatus
	LastError string
}

// RunConfig is the provider-agnostic run configuration shape shared between
// the orchestrator and the assistants integration.
type RunConfig struct {
	AssistantID  string
	Model        string
	Instructions string
	FileSearch   bool
}

// ThreadMessage is one message of a remote conversation thread, newest first
// as listed by the remote service.
type ThreadMessage struct {
	Role    string
	Content string
}

// RoleUser and RoleAssistant are the thread message roles the agent deals with.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
