package xerosync

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

func syncTopicName() string {
	topic := strings.TrimSpace(os.Getenv("XERO_SYNC_TOPIC"))
	if topic == "" {
		topic = "xero-sync"
	}
	return topic
}

func pubsubEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("XERO_SYNC_USE_PUBSUB")))
	return v == "1" || v == "true" || v == "yes"
}

// QueueSync creates the IN_PROGRESS log entry up front so callers get a log
// id immediately, then hands the run to Pub/Sub. When Pub/Sub is disabled or
// unavailable the run executes inline on a background goroutine instead, so
// async triggers still work in single-node deployments.
//
// Because the pre-created entry makes Pull skip its own overlap check, the
// check runs here, before the entry exists.
func (s *Service) QueueSync(ctx context.Context, entity EntityType, opts PullOptions) (uint, error) {
	opts = opts.withDefaults()
	running, err := s.logs.HasRunning(ctx, string(entity), s.now().Add(-opts.Timeout))
	if err != nil {
		return 0, err
	}
	if running {
		return 0, ErrSyncInProgress
	}
	entry := &models.SyncLogEntry{
		BusinessId:  s.businessID,
		Timestamp:   s.now(),
		UserId:      opts.UserID,
		Direction:   models.SyncDirectionPull,
		Entity:      string(entity),
		Status:      models.SyncLogStatusInProgress,
		TriggeredBy: opts.TriggeredBy,
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		return 0, err
	}
	opts.LogID = entry.ID

	if pubsubEnabled() {
		if err := publishSyncRun(ctx, SyncPubSubPayload{
			BusinessId: s.businessID,
			Entity:     string(entity),
			LogId:      entry.ID,
			Options:    opts,
		}); err == nil {
			return entry.ID, nil
		} else {
			config.LogError(s.logger, "xerosync", "QueueSync", string(entity), nil, err)
		}
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout+time.Minute)
		defer cancel()
		if _, err := s.Pull(runCtx, entity, opts); err != nil {
			config.LogError(s.logger, "xerosync", "QueueSync.inline", string(entity), nil, err)
		}
		s.InvalidateDashboard()
	}()
	return entry.ID, nil
}

func publishSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, syncTopicName())
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// HandleQueuedSync executes one queued run. It is the body of the Pub/Sub
// push endpoint; redelivered messages are safe because the pull itself is
// idempotent and the entity lock rejects overlapping runs.
func HandleQueuedSync(ctx context.Context, payload SyncPubSubPayload) error {
	entity, ok := ParseEntityType(payload.Entity)
	if !ok {
		return &ValidationError{Reason: "unknown entity type " + payload.Entity}
	}
	svc := NewService(payload.BusinessId)
	opts := payload.Options
	opts.LogID = payload.LogId
	opts = opts.withDefaults()
	_, err := svc.Pull(ctx, entity, opts)
	svc.InvalidateDashboard()
	return err
}
