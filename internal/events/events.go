// Package events publishes routing telemetry and consumes learning events.
// Publishing is best-effort: callers log and drop errors.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/comigor/triage-go/internal/logger"
)

// Topics.
const (
	TopicRouted   = "learning.routed"
	TopicResponse = "learning.response"
)

// Routed is published once per chat turn.
type Routed struct {
	UserID int64  `json:"user_id"`
	Intent string `json:"intent"`
	Agent  string `json:"agent"`
}

// Response is published by the concepts specialist when it answers from its
// curriculum.
type Response struct {
	UserID int64  `json:"user_id"`
	Topic  string `json:"topic"`
	Module string `json:"module"`
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Handler consumes one raw event body.
type Handler func(ctx context.Context, data []byte) error

// Typed adapts fn into a Handler that decodes the body with Decode.
func Typed[T any](fn func(ctx context.Context, v T) error) Handler {
	return func(ctx context.Context, data []byte) error {
		var v T
		if err := Decode(data, &v); err != nil {
			return err
		}
		return fn(ctx, v)
	}
}

// Decode unmarshals an event body into v. Bodies wrapped in a CloudEvents
// envelope are unwrapped from their "data" field first.
func Decode(body []byte, v any) error {
	var envelope struct {
		Data            json.RawMessage `json:"data"`
		SpecVersion     string          `json:"specversion"`
		DataContentType string          `json:"datacontenttype"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	payload := body
	if envelope.SpecVersion != "" && len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		payload = envelope.Data
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// Subscription describes a sidecar-managed subscription.
type Subscription struct {
	PubSubName string `json:"pubsubname"`
	Topic      string `json:"topic"`
	Route      string `json:"route"`
}

// CallbackRoute is the HTTP path a sidecar delivers topic events to.
func CallbackRoute(topic string) string {
	return "/events/" + topic
}

// Subscriptions lists the topics this service consumes.
func Subscriptions(pubsub string) []Subscription {
	return []Subscription{
		{PubSubName: pubsub, Topic: TopicRouted, Route: CallbackRoute(TopicRouted)},
		{PubSubName: pubsub, Topic: TopicResponse, Route: CallbackRoute(TopicResponse)},
	}
}

// Log is a Publisher that only logs. It is used when no bus is configured.
type Log struct{}

func (Log) Publish(_ context.Context, topic string, payload any) error {
	logger.L.Info("event", "topic", topic, "payload", payload)
	return nil
}
