// Package events publishes ingestion events on Redis pub/sub so other
// services can refresh their feeds when new listings land.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"jobchommie/listing-service/internal/ingest"
)

// ChannelJobsIngested receives one message per committed ingestion cycle.
const ChannelJobsIngested = "EVENT_JOBS_INGESTED"

// JobsIngested is the message body published on ChannelJobsIngested.
type JobsIngested struct {
	Type       string    `json:"type"`
	RunID      int64     `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
}

// NewJobsIngested builds the event for a committed cycle.
func NewJobsIngested(r ingest.Report) JobsIngested {
	return JobsIngested{
		Type:       ChannelJobsIngested,
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		Fetched:    r.Fetched,
		Inserted:   r.Inserted,
		Duplicates: r.Duplicates,
	}
}

// RedisPublisher implements ingest.Publisher.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) PublishIngested(ctx context.Context, r ingest.Report) error {
	payload, err := json.Marshal(NewJobsIngested(r))
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if err := p.rdb.Publish(ctx, ChannelJobsIngested, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", ChannelJobsIngested)
	}
	return nil
}
