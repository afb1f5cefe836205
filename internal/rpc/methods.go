package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/queue"
)

// Store is the subset of store.Store the RPC layer depends on for
// synchronous lookups; mutation of task rows otherwise flows through the
// workflow manager and queue.
type Store interface {
	GetTask(id string) (model.Task, bool)
	InsertTask(t model.Task) (model.Task, error)
	GetTaskLogs(taskID string) ([]model.TaskLog, error)
	ListTasks(status model.Status, workflowID string, limit int) []model.Task
	GetWebhookDeliveries(taskID string) ([]model.WebhookDelivery, error)
}

// WorkflowManager is the subset of workflow.Manager the RPC layer depends on.
type WorkflowManager interface {
	CreateWorkflow(name, description string) (string, error)
	AddPhase(workflowID, phaseID, name string, dependsOn []string) error
	AddPhaseTask(workflowID, phaseID string, task model.Task) (string, error)
	StartWorkflow(workflowID string) error
	GetWorkflowStatus(workflowID string) (model.WorkflowStatusView, error)
}

// RegisterMethods wires every method in the external-interface table onto d.
func RegisterMethods(d *Dispatcher, store Store, wf WorkflowManager, q *queue.Queue, serviceName, version string) {
	d.Register("health", func(json.RawMessage) (interface{}, error) {
		return map[string]string{"status": "healthy", "service": serviceName, "version": version}, nil
	})

	d.Register("task.create", func(params json.RawMessage) (interface{}, error) {
		var p struct {
			Name              string            `json:"name"`
			Description       string            `json:"description"`
			AgentName         string            `json:"agent_name"`
			AgentInstructions string            `json:"agent_instructions"`
			Priority          string            `json:"priority"`
			Dependencies      []string          `json:"dependencies"`
			WebhookURL        string            `json:"webhook_url"`
			TimeoutSeconds    int               `json:"timeout_seconds"`
			Metadata          map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if p.Name == "" || p.AgentName == "" || p.AgentInstructions == "" {
			return nil, fmt.Errorf("name, agent_name, and agent_instructions are required")
		}
		t := model.NewTask(p.Name, p.AgentName, p.AgentInstructions)
		t.ID = uuid.NewString()
		t.Description = p.Description
		t.Priority = model.ParsePriority(p.Priority)
		t.Dependencies = p.Dependencies
		t.WebhookURL = p.WebhookURL
		t.TimeoutSeconds = p.TimeoutSeconds
		t.Metadata = p.Metadata

		inserted, err := store.InsertTask(t)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"task_id": inserted.ID, "status": string(inserted.Status)}, nil
	})

	d.Register("task.get", func(params json.RawMessage) (interface{}, error) {
		id, err := paramID(params)
		if err != nil {
			return nil, err
		}
		t, ok := store.GetTask(id)
		if !ok {
			return nil, fmt.Errorf("task %s not found", id)
		}
		return t, nil
	})

	d.Register("task.cancel", func(params json.RawMessage) (interface{}, error) {
		id, err := paramID(params)
		if err != nil {
			return nil, err
		}
		if _, ok := store.GetTask(id); !ok {
			return nil, fmt.Errorf("task %s not found", id)
		}
		if err := q.SubmitCancel(id); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	d.Register("task.retry", func(params json.RawMessage) (interface{}, error) {
		id, err := paramID(params)
		if err != nil {
			return nil, err
		}
		t, ok := store.GetTask(id)
		if !ok {
			return nil, fmt.Errorf("task %s not found", id)
		}
		if !t.CanRetry() {
			return nil, fmt.Errorf("task %s is not retry-eligible", id)
		}
		if err := q.SubmitRetry(id); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	d.Register("task.logs", func(params json.RawMessage) (interface{}, error) {
		id, err := paramID(params)
		if err != nil {
			return nil, err
		}
		logs, err := store.GetTaskLogs(id)
		if err != nil {
			return nil, err
		}
		return logs, nil
	})

	d.Register("task.list", func(params json.RawMessage) (interface{}, error) {
		var p struct {
			Status     string `json:"status"`
			WorkflowID string `json:"workflow_id"`
			Limit      int    `json:"limit"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("invalid params: %w", err)
			}
		}
		tasks := store.ListTasks(model.Status(p.Status), p.WorkflowID, p.Limit)
		return map[string]interface{}{"tasks": tasks, "total": len(tasks)}, nil
	})

	d.Register("workflow.create", func(params json.RawMessage) (interface{}, error) {
		var p struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("name is required")
		}
		id, err := wf.CreateWorkflow(p.Name, p.Description)
		if err != nil {
			return nil, err
		}
		return map[string]string{"workflow_id": id}, nil
	})

	d.Register("workflow.addPhase", func(params json.RawMessage) (interface{}, error) {
		var p struct {
			WorkflowID string   `json:"workflow_id"`
			PhaseID    string   `json:"phase_id"`
			Name       string   `json:"name"`
			DependsOn  []string `json:"depends_on"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		if err := wf.AddPhase(p.WorkflowID, p.PhaseID, p.Name, p.DependsOn); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	d.Register("workflow.addTask", func(params json.RawMessage) (interface{}, error) {
		var p struct {
			WorkflowID        string            `json:"workflow_id"`
			PhaseID           string            `json:"phase_id"`
			Name              string            `json:"name"`
			Description       string            `json:"description"`
			AgentName         string            `json:"agent_name"`
			AgentInstructions string            `json:"agent_instructions"`
			Priority          string            `json:"priority"`
			Dependencies      []string          `json:"dependencies"`
			WebhookURL        string            `json:"webhook_url"`
			TimeoutSeconds    int               `json:"timeout_seconds"`
			Metadata          map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		t := model.NewTask(p.Name, p.AgentName, p.AgentInstructions)
		t.Description = p.Description
		t.Priority = model.ParsePriority(p.Priority)
		t.Dependencies = p.Dependencies
		t.WebhookURL = p.WebhookURL
		t.TimeoutSeconds = p.TimeoutSeconds
		t.Metadata = p.Metadata

		taskID, err := wf.AddPhaseTask(p.WorkflowID, p.PhaseID, t)
		if err != nil {
			return nil, err
		}
		return map[string]string{"task_id": taskID}, nil
	})

	d.Register("workflow.start", func(params json.RawMessage) (interface{}, error) {
		id, err := paramWorkflowID(params)
		if err != nil {
			return nil, err
		}
		if err := wf.StartWorkflow(id); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	d.Register("workflow.status", func(params json.RawMessage) (interface{}, error) {
		id, err := paramWorkflowID(params)
		if err != nil {
			return nil, err
		}
		view, err := wf.GetWorkflowStatus(id)
		if err != nil {
			return nil, err
		}
		return view, nil
	})

	d.Register("webhook.history", func(params json.RawMessage) (interface{}, error) {
		id, err := paramID(params)
		if err != nil {
			return nil, err
		}
		deliveries, err := store.GetWebhookDeliveries(id)
		if err != nil {
			return nil, err
		}
		return deliveries, nil
	})
}

func paramID(params json.RawMessage) (string, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid params: %w", err)
	}
	if p.ID == "" {
		return "", fmt.Errorf("id is required")
	}
	return p.ID, nil
}

func paramWorkflowID(params json.RawMessage) (string, error) {
	var p struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid params: %w", err)
	}
	if p.WorkflowID == "" {
		return "", fmt.Errorf("workflow_id is required")
	}
	return p.WorkflowID, nil
}
