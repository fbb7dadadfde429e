package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aawaheed/datashare/internal/infrastructure/resilience"
)

// Queue is one logical FIFO channel of identifiers over a JetStream
// work-queue stream. Producers publish after a confirmed durable save;
// consumers share a queue group so each identifier is handled by one worker
// at a time. Delivery is at-least-once: a message stays in the stream until
// its handler acks it, and is redelivered after AckWait otherwise.
type Queue struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	subject  string
	group    string
	ackWait  time.Duration
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	// AckWait must cover one full batch execution; an unacked delivery is
	// redelivered after this long.
	AckWait            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	ackWait := options.AckWait
	if ackWait <= 0 {
		ackWait = 2 * time.Hour
	}

	conn, err := nats.Connect(
		url,
		nats.Name("datashare"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := ensureStream(js, subject); err != nil {
		conn.Close()
		return nil, err
	}

	return &Queue{
		conn:     conn,
		js:       js,
		subject:  subject,
		group:    "workers",
		ackWait:  ackWait,
		executor: options.ResilienceExecutor,
	}, nil
}

// ensureStream creates the work-queue stream backing subject if it does not
// exist yet. Creation races between processes resolve to the same config.
func ensureStream(js nats.JetStreamContext, subject string) error {
	name := streamName(subject)
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

// streamName maps a subject to a valid stream name: stream names must not
// contain dots.
func streamName(subject string) string {
	return strings.ToUpper(strings.ReplaceAll(subject, ".", "_"))
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Name() string { return q.subject }

// Put publishes one identifier and waits for the stream ack, so the call
// returns only once the identifier is durably stored.
func (q *Queue) Put(ctx context.Context, uuid string) error {
	call := func(ctx context.Context) error {
		if _, err := q.js.Publish(q.subject, []byte(uuid), nats.Context(ctx)); err != nil {
			return fmt.Errorf("jetstream publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.put", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe consumes identifiers until ctx is canceled, then drains. A
// handler error naks the delivery for redelivery; only a clean return acks
// and removes the identifier from the stream.
func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.js.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			if err := msg.Nak(); err != nil {
				slog.Warn("nak during shutdown failed", "error", err)
			}
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			slog.Error("batch handler failed", "batch", string(msg.Data), "error", err)
			if err := msg.Nak(); err != nil {
				slog.Warn("nak failed", "batch", string(msg.Data), "error", err)
			}
			return
		}
		if err := msg.Ack(); err != nil {
			slog.Warn("ack failed", "batch", string(msg.Data), "error", err)
		}
	}, nats.ManualAck(), nats.AckWait(q.ackWait), nats.Durable(q.group))
	if err != nil {
		return fmt.Errorf("jetstream subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
