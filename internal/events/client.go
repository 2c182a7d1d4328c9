package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("journald"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// Publish JSON-encodes data and publishes it on subject.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// MaintenanceHandler applies one decoded maintenance request.
type MaintenanceHandler func(ctx context.Context, req MaintenanceRequest) error

// SubscribeMaintenance delivers valid journal.maintenance.request messages to
// handler. Malformed requests are logged and dropped.
func (c *Client) SubscribeMaintenance(handler MaintenanceHandler) error {
	return c.Subscribe(SubjectMaintenance, maintenanceDispatcher(handler, c.logger))
}

// RequestMaintenance validates req and publishes it for whichever journald
// instance is subscribed.
func (c *Client) RequestMaintenance(req MaintenanceRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := c.Publish(SubjectMaintenance, req); err != nil {
		return fmt.Errorf("publish maintenance request: %w", err)
	}
	return nil
}

func maintenanceDispatcher(handler MaintenanceHandler, logger *slog.Logger) func(string, []byte) {
	return func(subject string, data []byte) {
		req, err := DecodeMaintenanceRequest(data)
		if err != nil {
			logger.Warn("dropping maintenance request", "subject", subject, "error", err)
			return
		}
		if err := handler(context.Background(), req); err != nil {
			logger.Error("maintenance request failed",
				"action", req.Action,
				"owner_id", req.OwnerID,
				"journal_id", req.JournalID,
				"error", err,
			)
		}
	}
}

// Flush waits until the server has processed everything published so far.
// A ctx without a deadline gets a five second bound.
func (c *Client) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return c.conn.FlushWithContext(ctx)
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
