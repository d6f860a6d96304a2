package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/enrollment/internal/models"
)

// ValidationHandler processes one decoded event. A returned error causes
// redelivery.
type ValidationHandler func(ctx context.Context, ev models.ValidationEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeValidations starts a durable consumer on the VALIDATIONS stream.
// workerCount goroutines run handler concurrently.
func (c *Consumer) ConsumeValidations(ctx context.Context, consumerName string, handler ValidationHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	stream, err := c.js.Stream(ctx, ValidationsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ValidationsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		FilterSubject: ValidationsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch validations error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				handleMessage(ctx, workerID, msg, handler)
			}
		}(i)
	}

	slog.Info("validation consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

func handleMessage(ctx context.Context, workerID int, msg jetstream.Msg, handler ValidationHandler) {
	var ev models.ValidationEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		slog.Error("unmarshal validation event", "error", err, "subject", msg.Subject())
		_ = msg.Term() // redelivery can't fix a bad payload
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("process validation event", "worker", workerID, "error", err, "event_id", ev.ID)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) Close() {
	c.nc.Close()
}
