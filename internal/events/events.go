// Package events publishes schedule run outcomes to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/crucial707/resource-scheduler/internal/retry"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix is followed by the run status, e.g. schedules.runs.failed.
const SubjectPrefix = "schedules.runs."

// Subject returns the subject a run with status is published on.
func Subject(status models.RunStatus) string {
	return SubjectPrefix + string(status)
}

// Connect dials url with reconnect handlers logging through logger, retrying the
// initial connection.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("resource-scheduler"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	err := retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context, attempt int) error {
		var err error
		nc, err = nats.Connect(url, opts...)
		if err != nil {
			logger.Warn("failed to connect to NATS, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Publisher sends each recorded run as JSON.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher returns a Publisher on nc.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// PublishRun publishes run on Subject(run.Status). Delivery is at-most-once.
func (p *Publisher) PublishRun(_ context.Context, run models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := p.nc.Publish(Subject(run.Status), data); err != nil {
		return fmt.Errorf("publish run: %w", err)
	}
	return nil
}
