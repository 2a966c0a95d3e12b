package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"cloud.google.com/go/pubsub"
)

// PubSubSink publishes entries as JSON to a Pub/Sub topic for downstream activity-log consumers.
type PubSubSink struct {
	topic *pubsub.Topic
}

func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

func (s *PubSubSink) Record(ctx context.Context, e Entry) error {
	if s.topic == nil {
		return errors.New("audit topic is nil")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"action":         e.Action,
			"entity":         e.Entity,
			"institution_id": strconv.Itoa(e.InstitutionId),
			"correlation_id": e.CorrelationId,
		},
	})
	_, err = result.Get(ctx)
	return err
}
