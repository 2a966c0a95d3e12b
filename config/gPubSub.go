package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

// GetClient returns a Pub/Sub client, initializing with retries if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var opts []option.ClientOption
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	var attempt int
	for {
		attempt++
		c, err := pubsub.NewClient(ctx, projectID, opts...)
		if err == nil {
			pubsubClient = c
			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c, nil
		}

		sleep := backoff(attempt)
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run often sets this.
	return os.Getenv("GOOGLE_CLOUD_PROJECT")
}

// AuditTopic returns the activity-log topic named by AUDIT_PUBSUB_TOPIC, creating it when missing.
// ok is false when no topic is configured.
func AuditTopic(ctx context.Context) (topic *pubsub.Topic, ok bool, err error) {
	name := os.Getenv("AUDIT_PUBSUB_TOPIC")
	if name == "" {
		return nil, false, nil
	}
	client, err := GetClient(ctx)
	if err != nil {
		return nil, false, err
	}
	t := client.Topic(name)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		if t, err = client.CreateTopic(ctx, name); err != nil {
			return nil, false, fmt.Errorf("create topic %q: %w", name, err)
		}
	}
	return t, true, nil
}

// ClosePubSub flushes pending publishes and closes the client.
func ClosePubSub(topics ...*pubsub.Topic) {
	for _, t := range topics {
		if t != nil {
			t.Stop()
		}
	}
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}
