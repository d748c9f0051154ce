package bus

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Handler processes one event payload. Returning an error nacks the message
// so JetStream redelivers it.
type Handler func(ctx context.Context, data []byte) error

// Bus connects the pipeline to NATS JetStream.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS and ensures the pipeline stream exists.
func Connect(ctx context.Context, url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(c *nats.Conn) {
			zap.L().Warn("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "bus: connect")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, eris.Wrap(err, "bus: jetstream init")
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name: StreamName,
		Subjects: []string{
			SubjectDocumentArrived,
			SubjectExtractionCompleted,
			SubjectReviewCompleted,
		},
	})
	if err != nil {
		nc.Close()
		return nil, eris.Wrap(err, "bus: create stream")
	}

	zap.L().Info("nats connected", zap.String("url", url), zap.String("stream", StreamName))
	return &Bus{nc: nc, js: js}, nil
}

// Publish sends an event to the given subject as JSON.
func (b *Bus) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return eris.Wrapf(err, "bus: marshal event for %s", subject)
	}
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return eris.Wrapf(err, "bus: publish %s", subject)
	}
	return nil
}

// Subscribe registers a durable consumer on the subject. The returned stop
// function halts delivery without deleting the consumer, so a restarted
// worker resumes where it left off.
func (b *Bus) Subscribe(ctx context.Context, durable, subject string, handler Handler) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "bus: create consumer %s", durable)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(context.Background(), msg.Data()); err != nil {
			zap.L().Error("event handler failed",
				zap.String("subject", msg.Subject()),
				zap.Error(err))
			if nakErr := msg.Nak(); nakErr != nil {
				zap.L().Error("nats nak failed", zap.Error(nakErr))
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			zap.L().Error("nats ack failed", zap.Error(ackErr))
		}
	})
	if err != nil {
		return nil, eris.Wrapf(err, "bus: consume %s", subject)
	}
	return cons.Stop, nil
}

// Close drains the connection so in-flight acks land before shutdown.
func (b *Bus) Close() error {
	if err := b.nc.Drain(); err != nil {
		return eris.Wrap(err, "bus: drain")
	}
	return nil
}
