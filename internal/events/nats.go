package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSink publishes events as JSON on "<prefix>.<type>" subjects.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("signal-collector"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{conn: conn, prefix: strings.Trim(strings.TrimSpace(prefix), ".")}, nil
}

func (s *NATSSink) Subject(t Type) string {
	if s.prefix == "" {
		return string(t)
	}
	return s.prefix + "." + string(t)
}

func (s *NATSSink) Publish(evt Event) error {
	if s == nil || s.conn == nil {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.Subject(evt.Type), data)
}

// Close drains pending messages before closing the connection.
func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
