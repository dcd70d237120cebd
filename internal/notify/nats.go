// Package notify publishes build lifecycle events to NATS JetStream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/protohost/internal/build"
	"git.home.luguber.info/inful/protohost/internal/logfields"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "protohost.builds"

// publishTimeout bounds a single publish so a slow broker never stalls a build.
const publishTimeout = 5 * time.Second

// Publisher is the part of jetstream.JetStream the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Notifier is a build.EventSink that publishes every event as JSON on
// <prefix>.<prototype id>.<event type>.
type Notifier struct {
	conn   *nats.Conn
	js     Publisher
	prefix string
}

// Connect dials url, creates a JetStream context and makes sure a stream
// captures the subject prefix.
func Connect(ctx context.Context, url, prefix string) (*Notifier, error) {
	if prefix == "" {
		prefix = DefaultSubject
	}
	conn, err := nats.Connect(url, nats.Name("protohost"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(sctx, jetstream.StreamConfig{
		Name:        streamName(prefix),
		Description: "protohost build lifecycle events",
		Subjects:    []string{prefix + ".>"},
		MaxAge:      7 * 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	slog.Info("NATS build notifier initialized", slog.String("url", url), slog.String("subject", prefix))
	return &Notifier{conn: conn, js: js, prefix: prefix}, nil
}

// New wraps an existing publisher.
func New(js Publisher, prefix string) *Notifier {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return &Notifier{js: js, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (n *Notifier) Subject(ev build.Event) string {
	return Subject(n.prefix, ev)
}

// Subject joins prefix, prototype id and event type. Dots in the event type
// become extra tokens, so "build.failed" ends up as "...<id>.build.failed".
func Subject(prefix string, ev build.Event) string {
	id := ev.PrototypeID
	if id == "" {
		id = "_"
	}
	id = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(id)
	return prefix + "." + id + "." + string(ev.Type)
}

// Emit implements build.EventSink.
func (n *Notifier) Emit(ctx context.Context, ev build.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	subject := n.Subject(ev)
	if _, err := n.js.Publish(pctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	slog.Debug("Published build event",
		logfields.BuildID(ev.BuildID),
		logfields.PrototypeID(ev.PrototypeID),
		logfields.Event(string(ev.Type)))
	return nil
}

// Close drains the connection when the notifier owns one.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

func streamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(prefix))
}
