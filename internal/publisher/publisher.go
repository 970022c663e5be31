package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/metrics"
	"github.com/lumenlabs/arcus-adapter/pkg/model"
)

// Publisher wraps a NATS connection and provides helpers for publishing
// canonical device/lock events. It satisfies arcus.EventPublisher.
type Publisher struct {
	nc            *nats.Conn
	js            nats.JetStreamContext
	logger        *zap.Logger
	service       string
	deviceSubject string
	lockSubject   string
}

// New creates a new Publisher with JetStream enabled.
func New(nc *nats.Conn, logger *zap.Logger, service, deviceSubject, lockSubject string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:            nc,
		js:            js,
		logger:        logger,
		service:       service,
		deviceSubject: deviceSubject,
		lockSubject:   lockSubject,
	}, nil
}

// PublishPropertySet emits a device.property_set event.
func (p *Publisher) PublishPropertySet(ctx context.Context, mac, pid, value string) error {
	return p.publish(ctx, p.deviceSubject, "device.property_set", model.PropertySetPayload{
		MAC:   mac,
		PID:   pid,
		Value: value,
	})
}

// PublishLockAction emits a lock.action event. Failed attempts are published
// too so downstream consumers see the full audit stream.
func (p *Publisher) PublishLockAction(ctx context.Context, uuid, action string, success bool) error {
	return p.publish(ctx, p.lockSubject, "lock.action", model.LockActionPayload{
		LockUUID: uuid,
		Action:   action,
		Success:  success,
	})
}

func (p *Publisher) publish(_ context.Context, subject, eventType string, payload any) error {
	env := model.Event{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         subject,
		EventType:     eventType,
		Source:        p.service,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}

	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", eventType),
			zap.Error(err))
		metrics.IncNATSPublishError(subject)
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{eventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	if _, err := p.js.PublishMsg(msg); err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", eventType),
			zap.Error(err))
		metrics.IncNATSPublishError(subject)
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", eventType))
	return nil
}
