package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/pkg/logger"
	"github.com/finchat/assistant/pkg/metrics"
)

const (
	// DefaultSubjectPrefix is used when no prefix is configured.
	DefaultSubjectPrefix = "finchat.events"

	// HeaderConnectionID carries the originating connection, if any.
	HeaderConnectionID = "Finchat-Connection-Id"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// EventRelay publishes every hub event to NATS. Publishing is core NATS
// fire-and-forget; the connection buffers while reconnecting.
type EventRelay struct {
	pub    Publisher
	prefix string
	logger *logger.Logger
}

// NewEventRelay creates a relay publishing under prefix.
func NewEventRelay(pub Publisher, prefix string, log *logger.Logger) *EventRelay {
	prefix = strings.Trim(prefix, ". ")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = logger.Global()
	}
	return &EventRelay{
		pub:    pub,
		prefix: prefix,
		logger: log.Named("relay"),
	}
}

// EventSubject returns the subject for an event type.
func EventSubject(prefix string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s", prefix, eventType)
}

// Observe implements hub.Observer.
func (r *EventRelay) Observe(event model.ChatEvent) {
	if err := r.Publish(event); err != nil {
		r.logger.Warn("failed to relay event",
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// Publish mirrors one event.
func (r *EventRelay) Publish(event model.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		metrics.RelayPublishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(EventSubject(r.prefix, event.Type))
	msg.Data = data
	if event.Origin != "" {
		msg.Header.Set(HeaderConnectionID, event.Origin)
	}

	if err := r.pub.PublishMsg(msg); err != nil {
		metrics.RelayPublishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.RelayPublishTotal.WithLabelValues("success").Inc()
	return nil
}
