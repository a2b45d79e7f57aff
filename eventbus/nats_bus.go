// Package eventbus announces job and answer events to other services.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is where events go unless configured otherwise.
const DefaultSubject = "formflow.events"

// ErrInvalidEvent is returned for events missing required fields.
var ErrInvalidEvent = errors.New("eventbus: invalid event: missing required fields")

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NATSBus provides a lightweight event bus using NATS core subjects.
type NATSBus struct {
	nc      *nats.Conn
	subject string
}

type NATSConfig struct {
	URL     string
	Subject string
	// Name identifies the connection on the server.
	Name string
}

func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.Name
	if name == "" {
		name = "formflow"
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSBus{nc: nc, subject: subject}, nil
}

// Subject returns the subject events are published on.
func (b *NATSBus) Subject() string { return b.subject }

func (b *NATSBus) Publish(ctx context.Context, evt Event) error {
	if !evt.MinimalValidate() {
		return ErrInvalidEvent
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject+"."+evt.Type, data)
}

// Subscribe delivers every event on the bus subject tree to handler until
// ctx is done.
func (b *NATSBus) Subscribe(ctx context.Context, handler func(Event)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(b.subject+".>", func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			handler(evt)
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return sub, nil
}

func (b *NATSBus) Close() error {
	return b.nc.Drain()
}

// Nop drops every event. It is used when no NATS server is configured.
type Nop struct{}

func (Nop) Publish(_ context.Context, evt Event) error {
	if !evt.MinimalValidate() {
		return ErrInvalidEvent
	}
	return nil
}

func (Nop) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	if !evt.MinimalValidate() {
		return ErrInvalidEvent
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns what was published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Close() error { return nil }
