package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/nats-io/nats.go"
)

// NATSSink publishes messages on a NATS subject
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink connects to url and publishes on subject
func NewNATSSink(url, subject string) (*NATSSink, error) {
	logger := log.WithComponent("notify")
	opts := []nats.Option{
		nats.Name("ctt"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSSink{nc: nc, subject: subject}, nil
}

// Send publishes msg
func (s *NATSSink) Send(ctx context.Context, msg string) error {
	if s.nc == nil || s.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return s.nc.Publish(s.subject, []byte(msg))
}

// Close drains and closes the connection
func (s *NATSSink) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
		s.nc.Close()
	}
}
