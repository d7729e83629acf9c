package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/herald-news-agent/internal/config"
)

const mqttConnectTimeout = 30 * time.Second

// MQTTNotifier publishes the digest to a broker topic for
// home-automation consumers. Each Send opens a connection, publishes
// once, and disconnects.
type MQTTNotifier struct {
	logger *slog.Logger
	cfg    config.MQTTConfig
}

// NewMQTTNotifier creates the MQTT channel.
func NewMQTTNotifier(logger *slog.Logger, cfg config.MQTTConfig) *MQTTNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTNotifier{
		logger: logger.With("component", "notify.mqtt"),
		cfg:    cfg,
	}
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

func (n *MQTTNotifier) Send(ctx context.Context, d Digest) error {
	if n.cfg.Broker == "" || n.cfg.Topic == "" {
		return fmt.Errorf("mqtt channel not fully configured (broker, topic required)")
	}

	brokerURL, err := url.Parse(n.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	at := d.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}
	payload, err := json.Marshal(webhookPayload{
		Title:     d.Title,
		Content:   d.Content,
		Timestamp: at.Format(time.RFC3339),
		Source:    "herald",
	})
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: n.cfg.Username,
		ConnectPassword: []byte(n.cfg.Password),
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "herald-notify",
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		return fmt.Errorf("mqtt await connection: %w", err)
	}

	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   n.cfg.Topic,
		QoS:     1,
		Retain:  true,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", n.cfg.Topic, err)
	}

	n.logger.Debug("digest published", "topic", n.cfg.Topic, "bytes", len(payload))

	disconnectCtx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer dcancel()
	return cm.Disconnect(disconnectCtx)
}
