package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smarthatch/authserver/types"
)

// DefaultEventsChannel is the channel auth events are published to when none
// is configured.
const DefaultEventsChannel = "auth-events"

// EventPublisher publishes auth events as JSON. Events of one user share an
// ordering key so consumers see them in the order they happened.
type EventPublisher struct {
	mq      *MQ
	channel string
}

func NewEventPublisher(mq *MQ, channel string) *EventPublisher {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultEventsChannel
	}
	return &EventPublisher{mq: mq, channel: channel}
}

func (p *EventPublisher) PublishAuthEvent(ctx context.Context, event types.AuthEvent) error {
	attrs := map[string]string{
		AttrEventType:   string(event.Type),
		AttrOrderingKey: event.UserID,
	}
	if _, err := p.mq.PublishJSON(ctx, p.channel, event, attrs); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

func (p *EventPublisher) Channel() string {
	return p.channel
}

// ConsumeAuthEvents decodes messages on the publisher's channel and hands
// them to fn until ctx is done. Undecodable messages are dropped.
func (p *EventPublisher) ConsumeAuthEvents(ctx context.Context, fn func(context.Context, types.AuthEvent) error) error {
	return p.mq.Subscribe(ctx, p.channel, func(ctx context.Context, msg Message) error {
		event, err := DecodeAuthEvent(msg)
		if err != nil {
			return nil
		}
		return fn(ctx, event)
	})
}

// DecodeAuthEvent parses a message produced by PublishAuthEvent.
func DecodeAuthEvent(msg Message) (types.AuthEvent, error) {
	var event types.AuthEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.AuthEvent{}, fmt.Errorf("decode auth event: %w", err)
	}
	return event, nil
}
