// Package memory keeps published product events in process. It backs the
// "memory" notify backend used for dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Message is one recorded publish.
type Message struct {
	ID      string
	Topic   string
	Payload json.RawMessage
}

// Publisher records payloads as JSON and logs each one at debug level.
type Publisher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish encodes payload the same way the Pub/Sub publisher does and
// returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: data})
	p.mu.Unlock()

	p.logger.Debug("message recorded", zap.String("topic", topic), zap.String("message_id", id), zap.ByteString("payload", data))
	return id, nil
}

// Messages returns a copy of the recorded publishes in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close is a no-op so the memory and Pub/Sub publishers share a lifecycle.
func (p *Publisher) Close() error {
	return nil
}
