// Package events publishes raffle domain events to a message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Type identifies an event.
type Type string

const (
	RaffleCompleted Type = "completed"
	HistoryCleared  Type = "history_cleared"
)

// SourceService is stamped on every envelope.
const SourceService = "raffle"

// Event is something that happened in the raffle domain.
type Event struct {
	Type    Type
	Payload any
}

// RaffleCompletedPayload describes a finished draw.
type RaffleCompletedPayload struct {
	RaffleID  string    `json:"raffleId"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	Winners   int       `json:"winners"`
	Waitlist  int       `json:"waitlist"`
	Synthetic bool      `json:"synthetic"`
}

// Envelope is the wire form of an Event.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// Subject is the bus subject an event type is published on.
func Subject(t Type) string {
	return "raffle." + string(t)
}

// NewEnvelope wraps e with a fresh id and timestamp.
func NewEnvelope(e Event) (*Envelope, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Envelope{
		EventID:   uuid.New().String(),
		EventType: string(e.Type),
		Timestamp: time.Now().UTC(),
		Source:    SourceService,
		Payload:   payload,
	}, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop drops every event. It is used when no bus is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// NATSPublisher publishes envelopes on core NATS subjects.
type NATSPublisher struct {
	nc *nats.Conn
}

// ConnectNATS dials the comma-separated servers in url.
func ConnectNATS(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(SourceService),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Errorf("events: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("events: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Infof("events: connected to NATS at %s", url)
	return &NATSPublisher{nc: nc}, nil
}

// Publish sends e and flushes so delivery errors surface to the caller.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	env, err := NewEnvelope(e)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	subject := Subject(e.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", subject, err)
	}
	logger.V(1).Infof("events: published %s (%s)", subject, env.EventID)
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		logger.Warningf("events: drain NATS connection: %v", err)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
