package queue

import "testing"

func TestSubmitExecuteAndReceive(t *testing.T) {
	q := New(2)
	if err := q.SubmitExecute("task-1"); err != nil {
		t.Fatalf("SubmitExecute: %v", err)
	}
	cmd := <-q.Receive()
	if cmd.Kind != Execute || cmd.TaskID != "task-1" {
		t.Fatalf("got %+v, want Execute/task-1", cmd)
	}
}

func TestSubmitFullReturnsErrQueueFull(t *testing.T) {
	q := New(1)
	if err := q.SubmitExecute("t1"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := q.SubmitExecute("t2"); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestBroadcastShutdown(t *testing.T) {
	q := New(4)
	q.BroadcastShutdown(3)
	for i := 0; i < 3; i++ {
		cmd := <-q.Receive()
		if cmd.Kind != Shutdown {
			t.Fatalf("expected Shutdown command, got %v", cmd.Kind)
		}
	}
}

func TestCommandKindString(t *testing.T) {
	cases := map[CommandKind]string{
		Execute:     "execute",
		Cancel:      "cancel",
		Retry:       "retry",
		Shutdown:    "shutdown",
		CommandKind(99): "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", kind, got, want)
		}
	}
}
