// Package mqtttransport implements pubsub.Transport over MQTT via
// eclipse/paho.golang's autopaho connection manager, so PubSub instances
// in different processes can fan messages out to each other through a
// shared broker.
package mqtttransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// Config configures the MQTT-backed transport.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// Transport is a pubsub.Transport backed by an MQTT broker connection.
// Each local channel subscription becomes an MQTT topic subscription;
// publishes become MQTT publishes on the same topic.
type Transport struct {
	cfg    Config
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	mu      sync.Mutex
	handler func(channel string, data []byte)
	limiter *messageRateLimiter
}

// New constructs a Transport and connects to the broker. It waits up
// to 30 seconds (less if ctx is cancelled) for the initial connection;
// if that wait ends without a connection it logs a warning and still
// returns the Transport, and autopaho keeps reconnecting in the
// background.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	brokerURL, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker url: %w", err)
	}

	t := &Transport{
		cfg:     cfg,
		logger:  logger,
		limiter: newMessageRateLimiter(200, time.Second, logger),
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtttransport: connected to broker", "broker", cfg.BrokerURL)
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtttransport: connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	t.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		if !t.limiter.allow() {
			return true, nil
		}
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(pr.Packet.Topic, pr.Packet.Payload)
		}
		return true, nil
	})
	go t.limiter.start(ctx)

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn("mqtttransport: initial connection timed out, will retry in background", "error", err)
	}

	return t, nil
}

// OnMessage registers the handler invoked for every message received
// on a subscribed topic.
func (t *Transport) OnMessage(handler func(channel string, data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Subscribe subscribes to channel as an MQTT topic filter. The
// subscribe runs on its own goroutine and cb is invoked from there.
func (t *Transport) Subscribe(ctx context.Context, channel string, cb func(err error)) {
	go func() {
		_, err := t.cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: channel, QoS: t.cfg.QoS}},
		})
		cb(err)
	}()
}

// Unsubscribe removes the MQTT subscription for channel. Best effort —
// errors are logged, not surfaced, matching PubSub's fire-and-forget
// contract for Unsubscribe.
func (t *Transport) Unsubscribe(channel string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := t.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{channel}}); err != nil {
		t.logger.Warn("mqtttransport: unsubscribe failed", "channel", channel, "error", err)
	}
}

// Publish publishes data to channel as an MQTT topic.
func (t *Transport) Publish(ctx context.Context, channel string, data []byte, cb func(err error)) {
	_, err := t.cm.Publish(ctx, &paho.Publish{
		Topic:   channel,
		Payload: data,
		QoS:     t.cfg.QoS,
	})
	cb(err)
}

// Close disconnects from the broker.
func (t *Transport) Close(ctx context.Context) error {
	if t.cm == nil {
		return nil
	}
	return t.cm.Disconnect(ctx)
}
