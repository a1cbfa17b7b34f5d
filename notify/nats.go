package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/aibenefits/tracker"
)

// publisher is the part of *nats.Conn the publisher uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// AlertEvent is the JSON payload published for each alert.
type AlertEvent struct {
	ID        string                `json:"id"`
	ProjectID string                `json:"project_id"`
	Type      tracker.AlertType     `json:"type"`
	Severity  tracker.AlertSeverity `json:"severity"`
	Title     string                `json:"title"`
	Message   string                `json:"message,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// NATSPublisher publishes alerts as events on <prefix>.alerts.<type>.
type NATSPublisher struct {
	conn   publisher
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher creates a publisher on an open connection.
func NewNATSPublisher(conn publisher, prefix string, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "aibenefits"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an alert of type t is published on.
func (p *NATSPublisher) Subject(t tracker.AlertType) string {
	return p.prefix + ".alerts." + strings.ToLower(string(t))
}

// Notify implements Notifier.
func (p *NATSPublisher) Notify(ctx context.Context, alerts []*tracker.Alert) error {
	var errs []error
	for _, a := range alerts {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(AlertEvent{
			ID:        a.ID,
			ProjectID: a.ProjectID,
			Type:      a.Type,
			Severity:  a.Severity,
			Title:     a.Title,
			Message:   a.Message,
			CreatedAt: a.CreatedAt,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.conn.Publish(p.Subject(a.Type), data); err != nil {
			errs = append(errs, fmt.Errorf("publish alert %s: %w", a.ID, err))
		}
	}
	if len(errs) == 0 {
		p.logger.Debug("Published alert events", "count", len(alerts))
	}
	return errors.Join(errs...)
}

// ConnectNATS dials the NATS server with reconnect handling logged.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("aibenefits"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}
