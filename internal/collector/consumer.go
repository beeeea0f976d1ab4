package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/qkb2/iot-data-collector-server/pkg/metrics"
	"github.com/qkb2/iot-data-collector-server/pkg/mq"
)

// IngestMessage is the JSON envelope for telemetry arriving over AMQP from
// gateway deployments that buffer batches through RabbitMQ.
type IngestMessage struct {
	DeviceID string         `json:"device_id"`
	Values   []ReadingInput `json:"values"`
}

// IngestConsumer consumes telemetry batches from RabbitMQ and feeds them
// into the same IngestionPipeline as the HTTP path, so the authorization
// gate and provisioning policy apply identically.
type IngestConsumer struct {
	logger    *slog.Logger
	pipeline  *IngestionPipeline
	mqClient  mq.Consumer
	queueName string
	metrics   *metrics.CollectorMetrics // Optional metrics
	done      chan struct{}
}

// IngestConsumerConfig holds the configuration for the IngestConsumer.
type IngestConsumerConfig struct {
	Logger    *slog.Logger
	Pipeline  *IngestionPipeline
	MQClient  mq.Consumer
	QueueName string
	Metrics   *metrics.CollectorMetrics
}

// NewIngestConsumer creates a new IngestConsumer instance.
func NewIngestConsumer(cfg *IngestConsumerConfig) (*IngestConsumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline cannot be nil")
	}

	if cfg.MQClient == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	return &IngestConsumer{
		logger:    cfg.Logger,
		pipeline:  cfg.Pipeline,
		mqClient:  cfg.MQClient,
		queueName: cfg.QueueName,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}, nil
}

// Start begins consuming telemetry messages from RabbitMQ.
func (c *IngestConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting ingest consumer", "queue", c.queueName)

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go c.processMessages(ctx, deliveries)

	c.logger.Info("ingest consumer started, waiting for messages")
	return nil
}

// processMessages processes incoming messages from the deliveries channel.
func (c *IngestConsumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			close(c.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				close(c.done)
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery processes a single message delivery. Malformed and
// unauthorized messages are acked so they never loop; only storage failures
// are requeued.
func (c *IngestConsumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg IngestMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal ingest message", "error", err)
		c.countMessage("rejected")
		c.ack(delivery)
		return
	}

	count, err := c.pipeline.Ingest(ctx, msg.DeviceID, msg.Values)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.Is(err, ErrUnauthorized):
			c.logger.Warn("unauthorized device on queue",
				"device_id", msg.DeviceID,
			)
			c.countMessage("rejected")
			c.ack(delivery)
		case errors.As(err, &verr):
			c.logger.Warn("invalid batch on queue",
				"device_id", msg.DeviceID,
				"error", err,
			)
			c.countMessage("rejected")
			c.ack(delivery)
		default:
			c.logger.Error("failed to ingest batch from queue",
				"device_id", msg.DeviceID,
				"error", err,
			)
			c.countMessage("error")
			if nackErr := delivery.Nack(false, true); nackErr != nil {
				c.logger.Error("failed to nack message", "error", nackErr)
			}
		}
		return
	}

	c.countMessage("success")
	c.ack(delivery)

	c.logger.Debug("batch ingested from queue",
		"device_id", msg.DeviceID,
		"count", count,
	)
}

func (c *IngestConsumer) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
	}
}

func (c *IngestConsumer) countMessage(status string) {
	if c.metrics != nil {
		c.metrics.ConsumerMessagesTotal.WithLabelValues(c.queueName, status).Inc()
	}
}

// Stop stops the consumer and closes the MQ client.
func (c *IngestConsumer) Stop() error {
	c.logger.Info("stopping ingest consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	<-c.done

	c.logger.Info("ingest consumer stopped")
	return nil
}
