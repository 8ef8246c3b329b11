package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sorolabs/soro/internal/config"
	"github.com/sorolabs/soro/internal/protocol"
)

// Client wraps the NATS connection used to broadcast finalized transcripts
// and session lifecycle events to downstream consumers.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("soro-runtime"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// PublishTranscript broadcasts one finalized window. Fire-and-forget: a
// publish failure is logged and never surfaces to the session.
func (c *Client) PublishTranscript(evt protocol.TranscriptEvent) {
	if c == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		c.log.Warn("failed to marshal transcript event", slogError(err))
		return
	}
	if err := c.conn.Publish(protocol.SubjectTranscript, data); err != nil {
		c.log.Warn("failed to publish transcript event", slogError(err))
	}
}

// PublishSessionEvent announces session open/close on the bus.
func (c *Client) PublishSessionEvent(subject, sessionID string) {
	if c == nil {
		return
	}
	payload := struct {
		SessionID string    `json:"session_id"`
		Timestamp time.Time `json:"timestamp"`
	}{SessionID: sessionID, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("failed to marshal session event", slogError(err))
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.log.Warn("failed to publish session event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
