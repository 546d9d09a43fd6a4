package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	JobsStreamName     = "JOBS"
	JobsSubjectBase    = "jobs"
	ResultsStreamName  = "RESULTS"
	ResultsSubjectBase = "results"
)

var errNotConnected = errors.New("nats not connected")

// conn is the NATS connection shared by producers and consumers.
type conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func dial(natsURL, name string) (conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return conn{}, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return conn{}, fmt.Errorf("jetstream: %w", err)
	}
	return conn{nc: nc, js: js}, nil
}

// Ping round-trips to the server so a stalled connection is reported too.
func (c conn) Ping(ctx context.Context) error {
	if !c.nc.IsConnected() {
		return errNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
	}
	return c.nc.FlushWithContext(ctx)
}

func (c conn) Close() {
	c.nc.Close()
}

func jobSubject(id fmt.Stringer) string    { return JobsSubjectBase + "." + id.String() }
func resultSubject(id fmt.Stringer) string { return ResultsSubjectBase + "." + id.String() }

// streamConfigs describes the two streams of the system. Jobs are a work
// queue deduplicated on job id; results fan out to every interested API
// instance.
func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        JobsStreamName,
			Description: "Clustering jobs for reid workers",
			Subjects:    []string{JobsSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardNew,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     10000,
			Duplicates:  10 * time.Minute,
		},
		{
			Name:        ResultsStreamName,
			Description: "Finished clustering job results",
			Subjects:    []string{ResultsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			Storage:     jetstream.FileStorage,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     100000,
		},
	}
}
