// Package pubsub implements a Google Cloud Pub/Sub publisher for run events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"cloud.google.com/go/pubsub"
)

// Config names the topic run events go to.
type Config struct {
	ProjectID string
	Topic     string
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New creates a Publisher for topic. The client stays owned by the caller.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Dial creates a client for cfg.ProjectID and a publisher for cfg.Topic.
// Close stops the topic and closes the client.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: client.Topic(cfg.Topic)}, nil
}

// Publish marshals the payload to JSON and publishes it with attrs.
func (p *Publisher) Publish(ctx context.Context, attrs map[string]string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(attrs))}
	maps.Copy(msg.Attributes, attrs)

	result := p.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client when Dial created it.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
