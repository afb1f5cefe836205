// Package workflow implements the workflow/phase lifecycle: creation,
// seeding of initial tasks, and status rollup from member task outcomes.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/queue"
)

// Store is the subset of store.Store the workflow manager depends on.
type Store interface {
	InsertWorkflow(w model.Workflow) (model.Workflow, error)
	GetWorkflow(id string) (model.Workflow, bool)
	UpdateWorkflowStatus(id string, status model.Status) (model.Workflow, error)
	InsertPhase(p model.WorkflowPhase) (model.WorkflowPhase, error)
	GetPhase(workflowID, phaseID string) (model.WorkflowPhase, bool)
	ListPhases(workflowID string) []model.WorkflowPhase
	UpdatePhaseStatus(workflowID, phaseID string, status model.Status) (model.WorkflowPhase, error)
	InsertTask(t model.Task) (model.Task, error)
	GetWorkflowTasks(workflowID string) []model.Task
	GetPhaseTasks(workflowID, phaseID string) []model.Task
}

// Manager implements the public workflow surface described in the core design.
type Manager struct {
	store Store
	queue *queue.Queue
}

// New builds a Manager.
func New(store Store, q *queue.Queue) *Manager {
	return &Manager{store: store, queue: q}
}

// CreateWorkflow inserts a new Pending workflow.
func (m *Manager) CreateWorkflow(name, description string) (string, error) {
	w := model.Workflow{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	w, err := m.store.InsertWorkflow(w)
	if err != nil {
		return "", err
	}
	return w.ID, nil
}

// AddPhase adds a named phase to a workflow. phaseID must be unique within the workflow.
func (m *Manager) AddPhase(workflowID, phaseID, name string, dependsOn []string) error {
	if _, ok := m.store.GetWorkflow(workflowID); !ok {
		return fmt.Errorf("workflow %s not found", workflowID)
	}
	p := model.WorkflowPhase{
		WorkflowID: workflowID,
		PhaseID:    phaseID,
		Name:       name,
		DependsOn:  dependsOn,
		Status:     model.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := m.store.InsertPhase(p)
	return err
}

// AddPhaseTask attaches a task to a phase within a workflow and inserts it.
func (m *Manager) AddPhaseTask(workflowID, phaseID string, task model.Task) (string, error) {
	if _, ok := m.store.GetWorkflow(workflowID); !ok {
		return "", fmt.Errorf("workflow %s not found", workflowID)
	}
	if _, ok := m.store.GetPhase(workflowID, phaseID); !ok {
		return "", fmt.Errorf("phase %s not found in workflow %s", phaseID, workflowID)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.WorkflowID = workflowID
	task.PhaseID = phaseID
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = 3
	}
	t, err := m.store.InsertTask(task)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// StartWorkflow transitions the workflow to Running and directly enqueues
// Execute for every member task whose task-level AND phase-level
// dependencies are both empty; all other tasks rely on the scheduler's
// periodic sweep.
func (m *Manager) StartWorkflow(workflowID string) error {
	if _, ok := m.store.GetWorkflow(workflowID); !ok {
		return fmt.Errorf("workflow %s not found", workflowID)
	}
	if _, err := m.store.UpdateWorkflowStatus(workflowID, model.StatusRunning); err != nil {
		return err
	}

	phases := make(map[string]model.WorkflowPhase)
	for _, p := range m.store.ListPhases(workflowID) {
		phases[p.PhaseID] = p
	}

	for _, t := range m.store.GetWorkflowTasks(workflowID) {
		if len(t.Dependencies) != 0 {
			continue
		}
		if t.PhaseID != "" {
			phase, ok := phases[t.PhaseID]
			if !ok || len(phase.DependsOn) != 0 {
				continue
			}
		}
		_ = m.queue.SubmitExecute(t.ID)
	}
	return nil
}

// GetWorkflowStatus aggregates workflow, phases, and task totals.
func (m *Manager) GetWorkflowStatus(workflowID string) (model.WorkflowStatusView, error) {
	wf, ok := m.store.GetWorkflow(workflowID)
	if !ok {
		return model.WorkflowStatusView{}, fmt.Errorf("workflow %s not found", workflowID)
	}
	tasks := m.store.GetWorkflowTasks(workflowID)
	view := model.WorkflowStatusView{
		Workflow:   wf,
		Phases:     m.store.ListPhases(workflowID),
		TotalTasks: len(tasks),
	}
	for _, t := range tasks {
		switch t.Status {
		case model.StatusCompleted:
			view.CompletedTask++
		case model.StatusFailed:
			view.FailedTasks++
		case model.StatusRunning:
			view.RunningTasks++
		}
	}
	return view, nil
}

// Rollup recomputes a workflow's status from its member tasks' statuses.
// Phase statuses are left to RollupPhase. Called by the result processor
// after every terminal transition.
func (m *Manager) Rollup(workflowID string) error {
	tasks := m.store.GetWorkflowTasks(workflowID)
	if len(tasks) == 0 {
		return nil
	}

	anyFailed := false
	allTerminal := true
	allCompleted := true
	for _, t := range tasks {
		if t.Status == model.StatusFailed {
			anyFailed = true
		}
		if !t.Status.Terminal() {
			allTerminal = false
		}
		if t.Status != model.StatusCompleted {
			allCompleted = false
		}
	}

	var next model.Status
	switch {
	case anyFailed:
		next = model.StatusFailed
	case allCompleted:
		next = model.StatusCompleted
	case allTerminal:
		next = model.StatusCompleted
	default:
		return nil
	}
	_, err := m.store.UpdateWorkflowStatus(workflowID, next)
	return err
}

// RollupPhase recomputes a phase's status from its member tasks, using the
// same rule as workflow rollup (cancellations don't block completion).
func (m *Manager) RollupPhase(workflowID, phaseID string) error {
	tasks := m.store.GetPhaseTasks(workflowID, phaseID)
	if len(tasks) == 0 {
		return nil
	}
	anyFailed, allTerminal, allCompleted := false, true, true
	for _, t := range tasks {
		if t.Status == model.StatusFailed {
			anyFailed = true
		}
		if !t.Status.Terminal() {
			allTerminal = false
		}
		if t.Status != model.StatusCompleted {
			allCompleted = false
		}
	}
	var next model.Status
	switch {
	case anyFailed:
		next = model.StatusFailed
	case allCompleted, allTerminal:
		next = model.StatusCompleted
	default:
		return nil
	}
	_, err := m.store.UpdatePhaseStatus(workflowID, phaseID, next)
	return err
}
