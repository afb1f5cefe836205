// Package store provides the durable bbolt-backed persistence layer for
// tasks, workflows, phases, task logs, and webhook deliveries.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/platform/resilience"
)

var (
	bucketTasks       = []byte("tasks")
	bucketWorkflows   = []byte("workflows")
	bucketPhases      = []byte("phases")
	bucketTaskLogs    = []byte("task_logs")    // nested: taskID -> seq -> TaskLog
	bucketDeliveries  = []byte("deliveries")   // nested: taskID -> seq -> WebhookDelivery
	bucketWfTaskIndex = []byte("idx_wf_tasks") // nested: workflowID -> taskID -> nil
)

// Store is the single owner of row mutation for the engine. Reads are served
// from an in-memory cache kept consistent with bbolt by writing both under
// the same call; bbolt remains the durable source of truth used to warm the
// cache on startup.
type Store struct {
	db *bbolt.DB

	mu        sync.RWMutex
	tasks     map[string]model.Task
	workflows map[string]model.Workflow
	phases    map[string]model.WorkflowPhase // keyed by WorkflowPhase.Key()

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
}

// Open creates or reopens the bbolt database at path and warms the in-memory cache.
func Open(ctx context.Context, path string) (*Store, error) {
	meter := otel.Meter("swarm-taskengine-store")
	readLatency, _ := meter.Float64Histogram("taskengine_store_read_seconds")
	writeLatency, _ := meter.Float64Histogram("taskengine_store_write_seconds")

	db, err := resilience.Retry(ctx, 3, 200*time.Millisecond, func() (*bbolt.DB, error) {
		return bbolt.Open(path, 0o600, &bbolt.Options{
			Timeout:      2 * time.Second,
			NoSync:       false,
			FreelistType: bbolt.FreelistArrayType,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketTasks, bucketWorkflows, bucketPhases, bucketTaskLogs, bucketDeliveries, bucketWfTaskIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &Store{
		db:           db,
		tasks:        make(map[string]model.Task),
		workflows:    make(map[string]model.Workflow),
		phases:       make(map[string]model.WorkflowPhase),
		readLatency:  readLatency,
		writeLatency: writeLatency,
	}
	if err := s.warmCache(); err != nil {
		db.Close()
		return nil, fmt.Errorf("warm cache: %w", err)
	}
	return s, nil
}

func (s *Store) warmCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t model.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			s.tasks[t.ID] = t
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketWorkflows).ForEach(func(k, v []byte) error {
			var w model.Workflow
			if err := json.Unmarshal(v, &w); err != nil {
				return nil
			}
			s.workflows[w.ID] = w
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketPhases).ForEach(func(k, v []byte) error {
			var p model.WorkflowPhase
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			s.phases[p.Key()] = p
			return nil
		})
	})
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) recordWrite(start time.Time) {
	s.writeLatency.Record(context.Background(), time.Since(start).Seconds())
}

func (s *Store) recordRead(start time.Time) {
	s.readLatency.Record(context.Background(), time.Since(start).Seconds())
}

// --- tasks ---

// InsertTask persists a new task under its ID; the caller assigns the ID, and
// an empty one is rejected by bbolt.
func (s *Store) InsertTask(t model.Task) (model.Task, error) {
	defer s.recordWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketTasks), []byte(t.ID), t); err != nil {
			return err
		}
		if t.WorkflowID != "" {
			wfBucket, err := tx.Bucket(bucketWfTaskIndex).CreateBucketIfNotExists([]byte(t.WorkflowID))
			if err != nil {
				return err
			}
			if err := wfBucket.Put([]byte(t.ID), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	s.tasks[t.ID] = t
	return t, nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(id string) (model.Task, bool) {
	defer s.recordRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *Store) mutateTask(id string, mutate func(*model.Task) error) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("task %s not found", id)
	}
	if err := mutate(&t); err != nil {
		return model.Task{}, err
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketTasks), []byte(id), t)
	}); err != nil {
		return model.Task{}, fmt.Errorf("persist task %s: %w", id, err)
	}
	s.tasks[id] = t
	return t, nil
}

// UpdateTaskStatus transitions status, stamping started_at/completed_at per invariant 1.
func (s *Store) UpdateTaskStatus(id string, status model.Status) (model.Task, error) {
	defer s.recordWrite(time.Now())
	now := time.Now().UTC()
	return s.mutateTask(id, func(t *model.Task) error {
		t.Status = status
		switch status {
		case model.StatusRunning:
			t.StartedAt = &now
		case model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
			t.CompletedAt = &now
		}
		return nil
	})
}

// ResetTaskForRetry moves a Failed, retry-eligible task back to Pending. Per
// the Retry-timing resolution, retry_count is NOT incremented here — it is
// incremented by the worker when re-execution actually begins.
func (s *Store) ResetTaskForRetry(id string) (model.Task, error) {
	defer s.recordWrite(time.Now())
	return s.mutateTask(id, func(t *model.Task) error {
		if !t.CanRetry() {
			return fmt.Errorf("task %s is not retry-eligible", id)
		}
		t.Status = model.StatusPending
		t.StartedAt = nil
		return nil
	})
}

// BeginExecution stamps Running + started_at and, if this is a re-execution
// attempt, increments retry_count. Called exclusively by the worker pool.
func (s *Store) BeginExecution(id string) (model.Task, error) {
	defer s.recordWrite(time.Now())
	now := time.Now().UTC()
	return s.mutateTask(id, func(t *model.Task) error {
		wasRetried := t.CompletedAt != nil
		t.Status = model.StatusRunning
		t.StartedAt = &now
		t.CompletedAt = nil
		if wasRetried {
			t.RetryCount++
		}
		return nil
	})
}

// ResetStaleRunning moves a task stuck in Running back to Pending, clearing
// started_at. Used by the reaper to recover from a crashed worker.
func (s *Store) ResetStaleRunning(id string) (model.Task, error) {
	defer s.recordWrite(time.Now())
	return s.mutateTask(id, func(t *model.Task) error {
		if t.Status != model.StatusRunning {
			return fmt.Errorf("task %s is not Running", id)
		}
		t.Status = model.StatusPending
		t.StartedAt = nil
		return nil
	})
}

// UpdateTaskResult records a successful completion.
func (s *Store) UpdateTaskResult(id, result string) (model.Task, error) {
	defer s.recordWrite(time.Now())
	now := time.Now().UTC()
	return s.mutateTask(id, func(t *model.Task) error {
		t.Result = result
		t.Status = model.StatusCompleted
		t.CompletedAt = &now
		return nil
	})
}

// UpdateTaskError records a failed completion.
func (s *Store) UpdateTaskError(id, errText string) (model.Task, error) {
	defer s.recordWrite(time.Now())
	now := time.Now().UTC()
	return s.mutateTask(id, func(t *model.Task) error {
		t.Error = errText
		t.Status = model.StatusFailed
		t.CompletedAt = &now
		return nil
	})
}

// GetPendingTasks returns up to limit Pending tasks ordered by (priority DESC, created_at ASC).
func (s *Store) GetPendingTasks(limit int) []model.Task {
	defer s.recordRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, 0, limit)
	for _, t := range s.tasks {
		if t.Status == model.StatusPending {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetWorkflowTasks returns every task belonging to a workflow.
func (s *Store) GetWorkflowTasks(workflowID string) []model.Task {
	defer s.recordRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Task, 0)
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID {
			out = append(out, t)
		}
	}
	return out
}

// GetPhaseTasks returns every task belonging to a specific phase within a workflow.
func (s *Store) GetPhaseTasks(workflowID, phaseID string) []model.Task {
	defer s.recordRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Task, 0)
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID && t.PhaseID == phaseID {
			out = append(out, t)
		}
	}
	return out
}

// ListTasks filters by optional status and workflow id.
func (s *Store) ListTasks(status model.Status, workflowID string, limit int) []model.Task {
	defer s.recordRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Task, 0)
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		if workflowID != "" && t.WorkflowID != workflowID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AreDependenciesCompleted reports whether every dependency of t exists and is Completed.
// A missing dependency is treated as not-completed rather than an error.
func (s *Store) AreDependenciesCompleted(t model.Task) bool {
	if len(t.Dependencies) == 0 {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, depID := range t.Dependencies {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != model.StatusCompleted {
			return false
		}
	}
	return true
}

// --- workflows ---

// InsertWorkflow persists a new workflow.
func (s *Store) InsertWorkflow(w model.Workflow) (model.Workflow, error) {
	defer s.recordWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketWorkflows), []byte(w.ID), w)
	}); err != nil {
		return model.Workflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	s.workflows[w.ID] = w
	return w, nil
}

// GetWorkflow returns a workflow by id.
func (s *Store) GetWorkflow(id string) (model.Workflow, bool) {
	defer s.recordRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	return w, ok
}

// UpdateWorkflowStatus sets a workflow's status, stamping timestamps like a task's.
func (s *Store) UpdateWorkflowStatus(id string, status model.Status) (model.Workflow, error) {
	defer s.recordWrite(time.Now())
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return model.Workflow{}, fmt.Errorf("workflow %s not found", id)
	}
	w.Status = status
	switch status {
	case model.StatusRunning:
		w.StartedAt = &now
	case model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
		w.CompletedAt = &now
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketWorkflows), []byte(id), w)
	}); err != nil {
		return model.Workflow{}, fmt.Errorf("persist workflow %s: %w", id, err)
	}
	s.workflows[id] = w
	return w, nil
}

// --- phases ---

// InsertPhase persists a new workflow phase. Returns an error if (workflow_id, phase_id) already exists.
func (s *Store) InsertPhase(p model.WorkflowPhase) (model.WorkflowPhase, error) {
	defer s.recordWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.phases[p.Key()]; exists {
		return model.WorkflowPhase{}, fmt.Errorf("phase %s already exists in workflow %s", p.PhaseID, p.WorkflowID)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketPhases), []byte(p.Key()), p)
	}); err != nil {
		return model.WorkflowPhase{}, fmt.Errorf("insert phase: %w", err)
	}
	s.phases[p.Key()] = p
	return p, nil
}

// GetPhase returns a phase by workflow and phase id.
func (s *Store) GetPhase(workflowID, phaseID string) (model.WorkflowPhase, bool) {
	defer s.recordRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.phases[workflowID+"/"+phaseID]
	return p, ok
}

// ListPhases returns every phase belonging to a workflow.
func (s *Store) ListPhases(workflowID string) []model.WorkflowPhase {
	defer s.recordRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WorkflowPhase, 0)
	for _, p := range s.phases {
		if p.WorkflowID == workflowID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhaseID < out[j].PhaseID })
	return out
}

// UpdatePhaseStatus sets a phase's status, stamping timestamps.
func (s *Store) UpdatePhaseStatus(workflowID, phaseID string, status model.Status) (model.WorkflowPhase, error) {
	defer s.recordWrite(time.Now())
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workflowID + "/" + phaseID
	p, ok := s.phases[key]
	if !ok {
		return model.WorkflowPhase{}, fmt.Errorf("phase %s/%s not found", workflowID, phaseID)
	}
	p.Status = status
	switch status {
	case model.StatusRunning:
		p.StartedAt = &now
	case model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
		p.CompletedAt = &now
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketPhases), []byte(key), p)
	}); err != nil {
		return model.WorkflowPhase{}, fmt.Errorf("persist phase %s/%s: %w", workflowID, phaseID, err)
	}
	s.phases[key] = p
	return p, nil
}

// ArePhaseDependenciesCompleted reports whether every phase a given phase depends on is Completed.
func (s *Store) ArePhaseDependenciesCompleted(workflowID string, phase model.WorkflowPhase) bool {
	if len(phase.DependsOn) == 0 {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, depPhaseID := range phase.DependsOn {
		dep, ok := s.phases[workflowID+"/"+depPhaseID]
		if !ok || dep.Status != model.StatusCompleted {
			return false
		}
	}
	return true
}

// --- task logs ---

// AddTaskLog appends a log entry for a task.
func (s *Store) AddTaskLog(taskID string, level model.LogLevel, message string, metadata map[string]string) error {
	defer s.recordWrite(time.Now())
	entry := model.TaskLog{
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket(bucketTaskLogs)
		b, err := parent.CreateBucketIfNotExists([]byte(taskID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = seq
		return putJSON(b, seqKey(seq), entry)
	})
}

// GetTaskLogs returns a task's logs in chronological order.
func (s *Store) GetTaskLogs(taskID string) ([]model.TaskLog, error) {
	defer s.recordRead(time.Now())
	var out []model.TaskLog
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTaskLogs).Bucket([]byte(taskID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry model.TaskLog
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

// --- webhook deliveries ---

// AddWebhookDelivery appends a delivery attempt row for a task.
func (s *Store) AddWebhookDelivery(d model.WebhookDelivery) error {
	defer s.recordWrite(time.Now())
	return s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket(bucketDeliveries)
		b, err := parent.CreateBucketIfNotExists([]byte(d.TaskID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		d.ID = seq
		return putJSON(b, seqKey(seq), d)
	})
}

// GetWebhookDeliveries returns a task's delivery history, most recent first.
func (s *Store) GetWebhookDeliveries(taskID string) ([]model.WebhookDelivery, error) {
	defer s.recordRead(time.Now())
	var out []model.WebhookDelivery
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDeliveries).Bucket([]byte(taskID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var d model.WebhookDelivery
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	return out, err
}

// HasSuccessfulDelivery reports whether any delivery row for taskID has a 2xx status.
func (s *Store) HasSuccessfulDelivery(taskID string) bool {
	deliveries, err := s.GetWebhookDeliveries(taskID)
	if err != nil {
		return false
	}
	for _, d := range deliveries {
		if d.Delivered() {
			return true
		}
	}
	return false
}

// PendingWebhookTasks returns terminal (Completed or Failed, never Cancelled —
// invariant 7) tasks with a webhook_url and no prior 2xx delivery row.
func (s *Store) PendingWebhookTasks() []model.Task {
	s.mu.RLock()
	candidates := make([]model.Task, 0)
	for _, t := range s.tasks {
		if t.WebhookURL == "" {
			continue
		}
		if t.Status != model.StatusCompleted && t.Status != model.StatusFailed {
			continue
		}
		candidates = append(candidates, t)
	}
	s.mu.RUnlock()

	out := make([]model.Task, 0, len(candidates))
	for _, t := range candidates {
		if !s.HasSuccessfulDelivery(t.ID) {
			out = append(out, t)
		}
	}
	return out
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
