package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/reid/internal/models"
)

// Producer publishes jobs and results and owns the stream definitions.
type Producer struct {
	conn
}

func NewProducer(natsURL string) (*Producer, error) {
	c, err := dial(natsURL, "reid-producer")
	if err != nil {
		return nil, err
	}
	return &Producer{conn: c}, nil
}

// EnsureStreams creates or updates the streams, waiting up to
// streamAttempts seconds for JetStream to come up.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const streamAttempts = 30

	pending := streamConfigs()
	for attempt := 1; ; attempt++ {
		var failed []jetstream.StreamConfig
		var lastErr error
		for _, cfg := range pending {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				failed = append(failed, cfg)
				lastErr = fmt.Errorf("stream %s: %w", cfg.Name, err)
				continue
			}
			slog.Info("stream ready", "name", cfg.Name)
		}
		if len(failed) == 0 {
			return nil
		}
		if attempt == streamAttempts {
			return fmt.Errorf("ensure streams after %d attempts: %w", attempt, lastErr)
		}
		slog.Warn("ensure streams, retrying", "attempt", attempt, "pending", len(failed), "error", lastErr)
		pending = failed

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// PublishJob queues a clustering job. The job id doubles as the JetStream
// message id so resubmissions inside the duplicate window are dropped.
func (p *Producer) PublishJob(ctx context.Context, msg models.JobMessage) error {
	return p.publish(ctx, jobSubject(msg.JobID), msg, jetstream.WithMsgID(msg.JobID.String()))
}

func (p *Producer) PublishResult(ctx context.Context, res models.JobResult) error {
	return p.publish(ctx, resultSubject(res.JobID), res)
}

func (p *Producer) publish(ctx context.Context, subject string, v any, opts ...jetstream.PublishOpt) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, payload, opts...); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// QueueDepth reports how many jobs wait in the JOBS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, JobsStreamName)
	if err != nil {
		return 0, fmt.Errorf("jobs stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobs stream info: %w", err)
	}
	return info.State.Msgs, nil
}
