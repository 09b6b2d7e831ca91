// Package pubsub implements domain.Notifier over Google Cloud Pub/Sub:
// marshal the payload to JSON, publish to a topic, wait on the result.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Notifier publishes orchestrator notifications to a Pub/Sub topic.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier over an already-resolved topic handle.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Notify implements domain.Notifier: kind becomes a message attribute,
// payload is marshaled as the message body.
func (n *Notifier) Notify(ctx context.Context, kind string, payload map[string]any) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub notifier: topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pubsub notifier: marshal payload: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": kind},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub notifier: publish %s: %w", kind, err)
	}
	return nil
}
