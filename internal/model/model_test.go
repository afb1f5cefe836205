package model

import "testing"

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"low":      PriorityLow,
		"normal":   PriorityNormal,
		"high":     PriorityHigh,
		"critical": PriorityCritical,
		"":         PriorityNormal,
		"bogus":    PriorityNormal,
	}
	for in, want := range cases {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	nonTerminal := []Status{StatusPending, StatusRunning}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}

func TestTaskCanRetry(t *testing.T) {
	task := NewTask("t1", "stub:demo", "do work")
	task.Status = StatusFailed
	task.MaxRetries = 3
	task.RetryCount = 1
	if !task.CanRetry() {
		t.Fatal("expected retry-eligible task to be retryable")
	}
	task.RetryCount = 3
	if task.CanRetry() {
		t.Fatal("expected task at max retries to not be retryable")
	}
	task.RetryCount = 0
	task.Status = StatusCompleted
	if task.CanRetry() {
		t.Fatal("expected non-failed task to not be retryable")
	}
}

func TestWebhookDeliveryDelivered(t *testing.T) {
	ok := 200
	bad := 500
	d := WebhookDelivery{StatusCode: &ok}
	if !d.Delivered() {
		t.Fatal("expected 200 to count as delivered")
	}
	d.StatusCode = &bad
	if d.Delivered() {
		t.Fatal("expected 500 to not count as delivered")
	}
	d.StatusCode = nil
	if d.Delivered() {
		t.Fatal("expected nil status code to not count as delivered")
	}
}

func TestWorkflowPhaseKey(t *testing.T) {
	p := WorkflowPhase{WorkflowID: "wf1", PhaseID: "p1"}
	if got, want := p.Key(), "wf1/p1"; got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
}
