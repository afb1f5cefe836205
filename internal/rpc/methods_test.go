package rpc

import (
	"encoding/json"
	"testing"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/queue"
)

type fakeStore struct {
	tasks map[string]model.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]model.Task)}
}

func (f *fakeStore) GetTask(id string) (model.Task, bool) {
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeStore) InsertTask(t model.Task) (model.Task, error) {
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeStore) GetTaskLogs(taskID string) ([]model.TaskLog, error) {
	return nil, nil
}

func (f *fakeStore) ListTasks(status model.Status, workflowID string, limit int) []model.Task {
	var out []model.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out
}

func (f *fakeStore) GetWebhookDeliveries(taskID string) ([]model.WebhookDelivery, error) {
	return nil, nil
}

type fakeWorkflowManager struct{}

func (fakeWorkflowManager) CreateWorkflow(name, description string) (string, error) { return "wf-1", nil }
func (fakeWorkflowManager) AddPhase(workflowID, phaseID, name string, dependsOn []string) error {
	return nil
}
func (fakeWorkflowManager) AddPhaseTask(workflowID, phaseID string, task model.Task) (string, error) {
	return "task-1", nil
}
func (fakeWorkflowManager) StartWorkflow(workflowID string) error { return nil }
func (fakeWorkflowManager) GetWorkflowStatus(workflowID string) (model.WorkflowStatusView, error) {
	return model.WorkflowStatusView{}, nil
}

func TestTaskCreateRejectsMissingFields(t *testing.T) {
	d := NewDispatcher()
	RegisterMethods(d, newFakeStore(), fakeWorkflowManager{}, queue.New(10), "taskengine", "test")

	resp := d.Handle([]byte(`{"jsonrpc":"2.0","method":"task.create","params":{"name":""}}`))
	if resp.Error == nil {
		t.Fatal("expected an error for a task.create missing required fields")
	}
}

func TestTaskCreateThenGet(t *testing.T) {
	d := NewDispatcher()
	RegisterMethods(d, newFakeStore(), fakeWorkflowManager{}, queue.New(10), "taskengine", "test")

	resp := d.Handle([]byte(`{"jsonrpc":"2.0","method":"task.create","params":{"name":"t1","agent_name":"stub:demo","agent_instructions":"do it"}}`))
	if resp.Error != nil {
		t.Fatalf("task.create: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	taskID, _ := result["task_id"].(string)
	if taskID == "" {
		t.Fatal("expected a non-empty task_id")
	}

	params, _ := json.Marshal(map[string]string{"id": taskID})
	getResp := d.Handle(mustEnvelope("task.get", params))
	if getResp.Error != nil {
		t.Fatalf("task.get: %v", getResp.Error)
	}
}

func TestTaskRetrySubmitsRetryCommand(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusFailed, RetryCount: 0, MaxRetries: 3}
	q := queue.New(10)
	d := NewDispatcher()
	RegisterMethods(d, store, fakeWorkflowManager{}, q, "taskengine", "test")

	params, _ := json.Marshal(map[string]string{"id": "t1"})
	resp := d.Handle(mustEnvelope("task.retry", params))
	if resp.Error != nil {
		t.Fatalf("task.retry: %v", resp.Error)
	}

	select {
	case cmd := <-q.Receive():
		if cmd.Kind != queue.Retry || cmd.TaskID != "t1" {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	default:
		t.Fatal("expected a Retry command to be enqueued")
	}
}

func TestTaskRetryRejectsNonRetryEligibleTask(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusCompleted, RetryCount: 0, MaxRetries: 3}
	q := queue.New(10)
	d := NewDispatcher()
	RegisterMethods(d, store, fakeWorkflowManager{}, q, "taskengine", "test")

	params, _ := json.Marshal(map[string]string{"id": "t1"})
	resp := d.Handle(mustEnvelope("task.retry", params))
	if resp.Error == nil {
		t.Fatal("expected an error for a non-retry-eligible task")
	}
}

func TestHealthMethod(t *testing.T) {
	d := NewDispatcher()
	RegisterMethods(d, newFakeStore(), fakeWorkflowManager{}, queue.New(10), "taskengine", "1.2.3")
	resp := d.Handle([]byte(`{"jsonrpc":"2.0","method":"health"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	status, ok := resp.Result.(map[string]string)
	if !ok || status["status"] != "healthy" {
		t.Fatalf("unexpected health result: %+v", resp.Result)
	}
}

func mustEnvelope(method string, params json.RawMessage) []byte {
	req := Request{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		panic(err)
	}
	return data
}
