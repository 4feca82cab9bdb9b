// Package notify listens for cloud notifications on a NATS bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"landscaper/internal/hub"
	"landscaper/internal/retry"
)

// Events are the notification types forwarded to the hub.
var Events = []string{
	"compute.instance.create.end",
	"compute.instance.update",
	"compute.instance.resize.revert.end",
	"compute.instance.finish_resize.end",
	"compute.instance.rebuild.end",
	"compute.instance.delete.end",
	"compute.instance.shutdown.end",
	"volume.create.end",
	"volume.update.end",
	"volume.resize.end",
	"volume.attach.end",
	"volume.detach.end",
	"volume.delete.end",
}

// Config holds the bus connection settings
type Config struct {
	URL      string
	Subjects []string
	// Queue is the queue group; subscribers sharing it split the stream.
	Queue string
	Retry retry.Policy
}

// Listener subscribes to notification subjects and dispatches each known
// event type
type Listener struct {
	cfg    Config
	out    hub.Dispatcher
	logger *zap.Logger
	opts   []nats.Option
}

// New creates a notification listener
func New(cfg Config, out hub.Dispatcher, logger *zap.Logger, opts ...nats.Option) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	return &Listener{
		cfg:    cfg,
		out:    out,
		logger: logger.With(zap.String("component", "notify")),
		opts:   opts,
	}
}

// Name implements hub.Listener
func (l *Listener) Name() string { return "notifications" }

// Events implements hub.Listener
func (l *Listener) Events() []string {
	return slices.Clone(Events)
}

// Listen connects with bounded retries, subscribes, and forwards messages
// until ctx is cancelled.
func (l *Listener) Listen(ctx context.Context) error {
	nc, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer nc.Drain()

	msgs := make(chan *nats.Msg, 256)
	for _, subject := range l.cfg.Subjects {
		var sub *nats.Subscription
		if l.cfg.Queue != "" {
			sub, err = nc.ChanQueueSubscribe(subject, l.cfg.Queue, msgs)
		} else {
			sub, err = nc.ChanSubscribe(subject, msgs)
		}
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		l.logger.Info("subscribed", zap.String("subject", sub.Subject), zap.String("queue", l.cfg.Queue))
	}

	for {
		select {
		case msg := <-msgs:
			if err := l.handle(ctx, msg.Data); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Listener) connect(ctx context.Context) (*nats.Conn, error) {
	opts := append([]nats.Option{
		nats.Name("landscaper"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.logger.Warn("disconnected from bus", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.logger.Info("reconnected to bus", zap.String("url", nc.ConnectedUrl()))
		}),
	}, l.opts...)

	return retry.Do(ctx, l.logger, "nats connect", l.cfg.Retry, func() (*nats.Conn, error) {
		nc, err := nats.Connect(l.cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", l.cfg.URL, err)
		}
		l.logger.Info("connected to bus", zap.String("url", nc.ConnectedUrl()))
		return nc, nil
	})
}

// handle dispatches one notification. Messages that cannot be decoded or
// carry an unknown event type are dropped.
func (l *Listener) handle(ctx context.Context, data []byte) error {
	n, err := Decode(data)
	if err != nil {
		l.logger.Warn("dropping notification", zap.Error(err))
		return nil
	}
	if !slices.Contains(Events, n.EventType) {
		l.logger.Debug("ignoring notification", zap.String("event", n.EventType))
		return nil
	}
	l.logger.Info("notification received", zap.String("event", n.EventType))
	return l.out.Dispatch(ctx, hub.Event{Name: n.EventType, Body: n.raw, At: time.Now()})
}

// Notification is the envelope of a cloud notification
type Notification struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	raw       []byte
}

type messagingEnvelope struct {
	Message string `json:"oslo.message"`
}

// Decode parses a notification, unwrapping a messaging envelope that
// carries the notification as a JSON string.
func Decode(data []byte) (*Notification, error) {
	var env messagingEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	if env.Message != "" {
		data = []byte(env.Message)
	}

	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	if n.EventType == "" {
		return nil, fmt.Errorf("notification has no event_type")
	}
	n.raw = data
	return &n, nil
}
