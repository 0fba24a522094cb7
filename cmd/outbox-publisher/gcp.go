package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type topicSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// gcpPublishers adapts the shared Pub/Sub client to the relay's publisher interface.
func gcpPublishers(src topicSource) func(topic string) publisher {
	return func(topic string) publisher {
		p := src.Publisher(topic)
		if p == nil {
			return nil
		}
		return gcpPublisher{p}
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}

func (g gcpPublisher) Resume(orderingKey string) {
	if orderingKey != "" {
		g.p.ResumePublish(orderingKey)
	}
}
