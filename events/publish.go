// Package events publishes run lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/appforge/workflow"
	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes each event as JSON on workflow.Subject(kind).
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher returns a publisher on conn. A nil conn yields a publisher
// that drops everything.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// Publish sends e. Delivery is fire-and-forget: core NATS does not persist
// events with no subscriber.
func (p *NATSPublisher) Publish(ctx context.Context, e workflow.Event) error {
	if p.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(workflow.Subject(e.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind, err)
	}
	return nil
}

// Subscribe delivers every event for runID to fn until the returned
// subscription is drained. An empty runID receives all runs.
func Subscribe(conn *nats.Conn, runID string, fn func(workflow.Event)) (*nats.Subscription, error) {
	return conn.Subscribe(workflow.SubjectPrefix+".>", func(msg *nats.Msg) {
		var e workflow.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return
		}
		if runID != "" && e.RunID != runID {
			return
		}
		fn(e)
	})
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements driver.Publisher.
func (NopPublisher) Publish(context.Context, workflow.Event) error { return nil }
