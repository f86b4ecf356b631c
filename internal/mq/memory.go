package mq

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

// MemoryBackend is an in-process Backend. Messages published to a channel
// are buffered until a subscriber drains them. It serves tests and
// single-process development.
type MemoryBackend struct {
	mu       sync.Mutex
	queues   map[string][]Message
	notify   map[string]chan struct{}
	sequence int
	closed   bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		queues: make(map[string][]Message),
		notify: make(map[string]chan struct{}),
	}
}

// Publish appends a message to the named channel.
func (m *MemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", errors.New("memory backend closed")
	}

	m.sequence++
	id := strconv.Itoa(m.sequence)
	payload := append([]byte(nil), data...)
	var copied map[string]string
	if len(attrs) > 0 {
		copied = make(map[string]string, len(attrs))
		for k, v := range attrs {
			copied[k] = v
		}
	}
	m.queues[channel] = append(m.queues[channel], Message{ID: id, Data: payload, Attributes: copied})
	m.signal(channel)
	return id, nil
}

// Subscribe delivers messages from the named channel until ctx is done.
// A message whose handler fails is requeued at the tail.
func (m *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}

	for {
		msg, wait, ok := m.pop(channel)
		if ok {
			if err := handler(ctx, msg); err != nil {
				m.requeue(channel, msg)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Messages returns a snapshot of the messages still queued on channel.
func (m *MemoryBackend) Messages(channel string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.queues[channel]...)
}

// Close rejects further publishes.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryBackend) pop(channel string) (Message, <-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[channel]
	if len(queue) > 0 {
		msg := queue[0]
		m.queues[channel] = queue[1:]
		return msg, nil, true
	}
	wait, ok := m.notify[channel]
	if !ok {
		wait = make(chan struct{})
		m.notify[channel] = wait
	}
	return Message{}, wait, false
}

func (m *MemoryBackend) requeue(channel string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[channel] = append(m.queues[channel], msg)
	m.signal(channel)
}

// signal wakes any subscriber waiting on channel. Caller holds m.mu.
func (m *MemoryBackend) signal(channel string) {
	if wait, ok := m.notify[channel]; ok {
		close(wait)
		delete(m.notify, channel)
	}
}
