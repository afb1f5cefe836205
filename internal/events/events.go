// Package events optionally fans out task lifecycle transitions onto NATS
// for internal consumers (dashboards, audit sinks) that want a push feed
// distinct from the webhook pipeline's external, at-least-once HTTP
// notifications. It is disabled unless SWARM_NATS_URL is configured.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	nats "github.com/nats-io/nats.go"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/platform/natsctx"
)

// Publisher fans task outcomes out to a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials url and returns a Publisher publishing onto subject. A nil
// Publisher (with nil error) is returned when url is empty, letting callers
// treat publishing as a no-op without branching everywhere.
func Connect(url, subject string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url, nats.Name("taskengine"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

// PublishTaskOutcome emits a task's terminal state as a JSON event.
func (p *Publisher) PublishTaskOutcome(ctx context.Context, t model.Task) {
	if p == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		slog.Warn("events: failed to marshal task outcome", "task_id", t.ID, "error", err)
		return
	}
	subject := p.subject + "." + string(t.Status)
	if err := natsctx.Publish(ctx, p.conn, subject, data); err != nil {
		slog.Warn("events: failed to publish task outcome", "task_id", t.ID, "error", err)
	}
}

// Close closes the connection without draining pending messages.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}
