package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// jobMaxDeliver bounds redelivery of a job whose handler keeps failing with
// a transient error.
const jobMaxDeliver = 3

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	conn
}

func NewConsumer(natsURL string) (*Consumer, error) {
	c, err := dial(natsURL, "reid-consumer")
	if err != nil {
		return nil, err
	}
	return &Consumer{conn: c}, nil
}

// ConsumeJobs runs handler for clustering jobs on workerCount goroutines.
// A clustering run can take minutes, so messages are acked late and the
// ack deadline is long. Jobs that fail on their last delivery are
// terminated instead of nak'ed.
func (c *Consumer) ConsumeJobs(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	cons, err := c.durable(ctx, JobsStreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Minute,
		MaxDeliver:    jobMaxDeliver,
		MaxAckPending: workerCount,
		FilterSubject: JobsSubjectBase + ".>",
	})
	if err != nil {
		return err
	}

	msgCh := make(chan jetstream.Msg, workerCount)
	go fetchLoop(ctx, cons, workerCount, msgCh)

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				settleJob(ctx, msg, handler(ctx, msg), workerID)
			}
		}(i)
	}

	slog.Info("job consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

func settleJob(ctx context.Context, msg jetstream.Msg, err error, workerID int) {
	if err == nil {
		_ = msg.Ack()
		return
	}
	delivered := uint64(0)
	if md, mdErr := msg.Metadata(); mdErr == nil {
		delivered = md.NumDelivered
	}
	if ctx.Err() == nil && delivered >= jobMaxDeliver {
		slog.Error("job failed on last delivery, dropping", "worker", workerID,
			"subject", msg.Subject(), "deliveries", delivered, "error", err)
		_ = msg.Term()
		return
	}
	slog.Warn("job failed, will be redelivered", "worker", workerID,
		"subject", msg.Subject(), "deliveries", delivered, "error", err)
	_ = msg.NakWithDelay(5 * time.Second)
}

// ConsumeResults feeds finished job results to handler, one at a time. Only
// results published after the consumer is created are delivered.
func (c *Consumer) ConsumeResults(ctx context.Context, consumerName string, handler MessageHandler) error {
	cons, err := c.durable(ctx, ResultsStreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: ResultsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return err
	}

	msgCh := make(chan jetstream.Msg, 10)
	go fetchLoop(ctx, cons, 10, msgCh)
	go func() {
		for msg := range msgCh {
			if err := handler(ctx, msg); err != nil {
				slog.Error("process result error", "error", err)
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}()

	slog.Info("result consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) durable(ctx context.Context, streamName string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", streamName, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Name, err)
	}
	return cons, nil
}

// fetchLoop pulls batches into out until ctx is done, then closes out.
func fetchLoop(ctx context.Context, cons jetstream.Consumer, batchSize int, out chan<- jetstream.Msg) {
	defer close(out)
	for ctx.Err() == nil {
		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch messages", "consumer", cons.CachedInfo().Name, "error", err)
			time.Sleep(time.Second)
			continue
		}
		for msg := range batch.Messages() {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}
