// Package mqtt publishes run completion events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/pithecene-io/gloss/adapter"
)

// DefaultTopic is the default topic prefix. The command name is appended.
const DefaultTopic = "gloss/run_completed"

// DefaultTimeout bounds connect and publish acknowledgements.
const DefaultTimeout = 5 * time.Second

// Config configures the MQTT adapter.
type Config struct {
	// URL is the broker address, e.g. tcp://localhost:1883 (required).
	URL string
	// Topic is the topic prefix (default gloss/run_completed).
	Topic string
	// ClientID identifies this client to the broker (default gloss-<run id>).
	ClientID string
	// Username and Password authenticate to the broker, if set.
	Username string
	Password string
	// QoS is the publish quality of service (0, 1 or 2; default 1).
	QoS *byte
	// Retain sets the retained flag so late subscribers see the last run.
	Retain bool
	// Timeout bounds connect and publish (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the delay before the first retry (default adapter.DefaultBackoff).
	Backoff time.Duration
}

// Adapter publishes run completion events via MQTT. It connects lazily on
// the first publish.
type Adapter struct {
	config Config
	qos    byte
	opts   *paho.ClientOptions

	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
}

// New creates an MQTT adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("mqtt adapter requires a broker URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	qos := byte(1)
	if cfg.QoS != nil {
		if *cfg.QoS > 2 {
			return nil, fmt.Errorf("qos must be 0, 1 or 2, got %d", *cfg.QoS)
		}
		qos = *cfg.QoS
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gloss"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetWriteTimeout(cfg.Timeout)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	return &Adapter{
		config:    cfg,
		qos:       qos,
		opts:      opts,
		newClient: paho.NewClient,
	}, nil
}

// Topic returns the topic an event is published to.
func (a *Adapter) Topic(event *adapter.RunCompletedEvent) string {
	if event.Command == "" {
		return a.config.Topic
	}
	return strings.TrimSuffix(a.config.Topic, "/") + "/" + event.Command
}

// Publish sends the event as JSON to Topic(event).
func (a *Adapter) Publish(ctx context.Context, event *adapter.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("mqtt: marshal event: %w", err)
	}
	topic := a.Topic(event)

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		client, err := a.connect(ctx)
		if err != nil {
			return err
		}
		return wait(ctx, client.Publish(topic, a.qos, a.config.Retain, body), a.config.Timeout, "publish")
	})
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}

func (a *Adapter) connect(ctx context.Context) (paho.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil && a.client.IsConnectionOpen() {
		return a.client, nil
	}
	client := a.newClient(a.opts)
	if err := wait(ctx, client.Connect(), a.config.Timeout, "connect"); err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

func wait(ctx context.Context, token paho.Token, timeout time.Duration, op string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%s timeout after %s", op, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return nil
}

// Close disconnects from the broker.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.Disconnect(250)
		a.client = nil
	}
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
