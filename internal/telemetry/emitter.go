package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	EventMessageCreated = "message_created"
	EventWS             = "ws_events"
	EventAudit          = "audit_log"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// ErrorCounter is notified of failed publishes.
type ErrorCounter func()

// Emitter wraps events into a versioned envelope and hands them to the publisher.
type Emitter struct {
	publisher   Publisher
	service     string
	environment string
	log         *zap.Logger
	onError     ErrorCounter
}

type Envelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	EventName     string  `json:"event_name,omitempty"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id,omitempty"`
	UserID        *string `json:"user_id,omitempty"`
	Payload       any     `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func NewEmitter(publisher Publisher, service, environment string, log *zap.Logger, onError ErrorCounter) *Emitter {
	return &Emitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		log:         log,
		onError:     onError,
	}
}

// Emit publishes an event. Failures are logged, never returned: event
// delivery must not fail the request that produced it.
func (e *Emitter) Emit(ctx context.Context, routingKey, eventType, eventName string, payload any, requestID, traceID string, userID *int) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		EventName:     eventName,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        formatUserID(userID),
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, routingKey, envelope, BuildHeaders(requestID, traceID)); err != nil {
		e.log.Warn("event publish failed", zap.String("routing_key", routingKey), zap.String("event_type", eventType), zap.Error(err))
		if e.onError != nil {
			e.onError()
		}
	}
}

// Audit emits an audit_log event.
func (e *Emitter) Audit(ctx context.Context, level, text, requestID string, userID *int) {
	if e == nil {
		return
	}
	e.log.Info("audit emit", zap.String("level", level), zap.String("request_id", requestID), zap.String("text", text))
	e.Emit(ctx, "audit.inbox", EventAudit, "", AuditPayload{Level: level, Text: text}, requestID, "", userID)
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

func formatUserID(userID *int) *string {
	if userID == nil {
		return nil
	}
	s := strconv.Itoa(*userID)
	return &s
}
