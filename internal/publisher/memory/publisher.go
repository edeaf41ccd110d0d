// Package memory keeps harvest notifications in process. Payloads are encoded and
// carry trace context exactly like the Pub/Sub publisher, so tests see the wire form.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}

// Publisher records messages instead of sending them.
type Publisher struct {
	propagator propagation.TextMapPropagator

	mu       sync.Mutex
	messages []Message
	// Err, when set, fails every publish.
	Err error
}

// New returns an empty Publisher using the global otel propagator.
func New() *Publisher {
	return &Publisher{propagator: otel.GetTextMapPropagator()}
}

// Publish encodes payload and records it under topic. IDs count up per publisher.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.Err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{}
	p.propagator.Inject(ctx, propagation.MapCarrier(attrs))

	msg := Message{
		ID:         fmt.Sprintf("%s-%d", topic, len(p.messages)+1),
		Topic:      topic,
		Data:       data,
		Attributes: attrs,
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of the recorded messages in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
