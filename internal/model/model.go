// Package model defines the persisted entities of the task/workflow engine.
package model

import "time"

// Status is the lifecycle state shared by tasks, workflows, and phases.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the three terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority is an ordinal scheduling hint; higher runs first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 20
)

// ParsePriority maps the RPC priority strings to ordinals, defaulting unknown values to Normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	case "normal", "":
		return PriorityNormal
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Task is a single unit of work handed to a runner.
type Task struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	WorkflowID        string            `json:"workflow_id,omitempty"`
	PhaseID           string            `json:"phase_id,omitempty"`
	AgentName         string            `json:"agent_name"`
	AgentInstructions string            `json:"agent_instructions"`
	Status            Status            `json:"status"`
	Priority          Priority          `json:"priority"`
	Dependencies      []string          `json:"dependencies,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	Result            string            `json:"result,omitempty"`
	Error             string            `json:"error,omitempty"`
	WebhookURL        string            `json:"webhook_url,omitempty"`
	RetryCount        int               `json:"retry_count"`
	MaxRetries        int               `json:"max_retries"`
	TimeoutSeconds    int               `json:"timeout_seconds,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// CanRetry reports whether the task is eligible for a Retry command.
func (t Task) CanRetry() bool {
	return t.Status == StatusFailed && t.RetryCount < t.MaxRetries
}

// NewTask builds a Pending task with defaulted retry budget.
func NewTask(name, agentName, agentInstructions string) Task {
	return Task{
		Name:              name,
		AgentName:         agentName,
		AgentInstructions: agentInstructions,
		Status:            StatusPending,
		Priority:          PriorityNormal,
		MaxRetries:        3,
		CreatedAt:         time.Now().UTC(),
	}
}

// Workflow is a coordination group of tasks arranged into phases.
type Workflow struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// WorkflowPhase is a named stage within a workflow, identified by (WorkflowID, PhaseID).
type WorkflowPhase struct {
	WorkflowID  string     `json:"workflow_id"`
	PhaseID     string     `json:"phase_id"`
	Name        string     `json:"name"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Key returns the composite bucket key for a phase.
func (p WorkflowPhase) Key() string {
	return p.WorkflowID + "/" + p.PhaseID
}

// LogLevel mirrors the handful of levels task logs are written at.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// TaskLog is an append-only audit entry for a task.
type TaskLog struct {
	ID        uint64            `json:"id"`
	TaskID    string            `json:"task_id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// WebhookDelivery is one row per delivery attempt for a task's webhook.
type WebhookDelivery struct {
	ID           uint64     `json:"id"`
	TaskID       string     `json:"task_id"`
	URL          string     `json:"url"`
	PayloadJSON  string     `json:"payload_json"`
	StatusCode   *int       `json:"status_code,omitempty"`
	ResponseText string     `json:"response_text,omitempty"`
	AttemptedAt  time.Time  `json:"attempted_at"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
}

// Delivered reports whether this row represents a successful (2xx) delivery.
func (d WebhookDelivery) Delivered() bool {
	return d.StatusCode != nil && *d.StatusCode >= 200 && *d.StatusCode < 300
}

// WebhookPayload is the JSON body POSTed to a task's webhook URL.
type WebhookPayload struct {
	TaskID      string            `json:"task_id"`
	TaskName    string            `json:"task_name"`
	Status      Status            `json:"status"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// WebhookPayloadFromTask builds the webhook payload for a terminal task.
func WebhookPayloadFromTask(t Task) WebhookPayload {
	return WebhookPayload{
		TaskID:      t.ID,
		TaskName:    t.Name,
		Status:      t.Status,
		Result:      t.Result,
		Error:       t.Error,
		CompletedAt: t.CompletedAt,
		Metadata:    t.Metadata,
	}
}

// WorkflowStatusView is the aggregated result of workflow.status.
type WorkflowStatusView struct {
	Workflow      Workflow        `json:"workflow"`
	Phases        []WorkflowPhase `json:"phases"`
	TotalTasks    int             `json:"total_tasks"`
	CompletedTask int             `json:"completed_tasks"`
	FailedTasks   int             `json:"failed_tasks"`
	RunningTasks  int             `json:"running_tasks"`
}
