package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/adminauth/internal/models"
	"github.com/honeynil/adminauth/internal/repository"
	pkgerrors "github.com/honeynil/adminauth/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// Consumer persists auth audit events published by the session service.
type Consumer struct {
	reader    *kafka.Reader
	auditRepo repository.AuditRepository
}

func NewConsumer(brokers []string, topic, groupID string, auditRepo repository.AuditRepository) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		auditRepo: auditRepo,
	}
}

// Consume reads until ctx is cancelled or the reader is closed.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				slog.Info("audit consumer stopped", "topic", c.reader.Config().Topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		if err := HandleAuditMessage(ctx, c.auditRepo, msg.Value); err != nil {
			// TODO: route undecodable events to a dead-letter topic instead of dropping them.
			slog.Error("failed to handle audit event", "topic", msg.Topic, "key", string(msg.Key), "error", err)
			continue
		}
	}
}

// HandleAuditMessage decodes one audit event and stores it.
func HandleAuditMessage(ctx context.Context, repo repository.AuditRepository, value []byte) error {
	var event models.AuditEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal audit event: %w", err)
	}
	if !event.Type.Valid() {
		return fmt.Errorf("%w: %q", pkgerrors.ErrUnknownEventType, event.Type)
	}
	event.Clamp()

	if err := repo.Create(ctx, &event); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}

	slog.Info("audit event stored", "event_type", event.Type, "username", event.Username, "id", event.ID)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
