// Package events provides a fire-and-forget JetStream publisher for asset
// lifecycle events consumed by search indexing and notification services.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName = "ASSET_EVENTS"

	SubjectUploadCompleted   = "assets.upload.completed"
	SubjectFamilyReconciled  = "assets.family.reconciled"
	SubjectFamilyPlanAborted = "assets.family.plan_aborted"
)

// Event is the envelope sent to every assets.* subject.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	ActorID    string         `json:"actor_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes events to NATS JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
	now func() time.Time
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub.
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log, now: time.Now}
}

// EnsureStream creates ASSET_EVENTS when missing, or widens its subjects.
func EnsureStream(js nats.JetStreamContext) error {
	info, err := js.StreamInfo(StreamName)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == "assets.>" {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = []string{"assets.>"}
		_, err := js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"assets.>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}

// Envelope builds the event that Publish would send.
func (p *Publisher) Envelope(eventName, actorID string, props map[string]any) Event {
	now := time.Now
	if p != nil && p.now != nil {
		now = p.now
	}
	return Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		ActorID:    actorID,
		OccurredAt: now().UTC(),
		Properties: props,
	}
}

// Publish sends an event asynchronously. Failures are logged as warnings
// and never surface to the caller. Safe to call with a nil receiver.
func (p *Publisher) Publish(subject, actorID string, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	ev := p.Envelope(subject, actorID, props)
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
