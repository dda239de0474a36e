// Package remote sends display commands to the kiosk device over MQTT and
// mirrors the state it reports back.
package remote

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"homedash/internal/config"
	appLog "homedash/internal/log"
	"homedash/internal/metrics"
)

// Command topics.
const (
	TopicDisplayCommand    = "pi/display/command"
	TopicBrowserURL        = "pi/browser/command/url"
	TopicBrowserRefresh    = "pi/browser/command/refresh"
	TopicBrightnessCommand = "pi/brightness/command"
	TopicSystemRestart     = "pi/system/command/restart"
)

// State topics published by the device.
const (
	TopicDisplayState    = "pi/display/state"
	TopicCurrentURL      = "pi/browser/current_url"
	TopicBrightnessState = "pi/brightness/state"
)

const publishTimeout = 5 * time.Second

var (
	// ErrNotConnected is returned when a command is sent without a broker
	// connection. Nothing is queued.
	ErrNotConnected = errors.New("remote: mqtt not connected")
	// ErrInvalidCommand marks a command argument out of range.
	ErrInvalidCommand = errors.New("remote: invalid command")
)

// Client is the subset of mqtt.Client the controller uses.
type Client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// ClientFactory builds a client from options.
type ClientFactory func(opts *mqtt.ClientOptions) Client

func defaultFactory(opts *mqtt.ClientOptions) Client {
	return mqtt.NewClient(opts)
}

// State is the last known device state.
type State struct {
	Enabled    bool   `json:"enabled"`
	Connected  bool   `json:"connected"`
	Display    string `json:"display"`
	CurrentURL string `json:"current_url"`
	Brightness string `json:"brightness"`
}

// Controller owns at most one broker connection.
type Controller struct {
	factory ClientFactory
	metrics *metrics.Manager

	mu      sync.RWMutex
	client  Client
	enabled bool
	state   map[string]string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClientFactory replaces mqtt.NewClient, mainly for tests.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Controller) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithMetrics counts publishes on m.
func WithMetrics(m *metrics.Manager) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// New returns a disconnected controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		factory: defaultFactory,
		state:   defaultState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultState() map[string]string {
	return map[string]string{
		TopicDisplayState:    "unknown",
		TopicCurrentURL:      "",
		TopicBrightnessState: "",
	}
}

// Reconfigure drops any existing connection and, when cfg is enabled,
// starts a new one. Connecting happens in the background with retries, so
// an unreachable broker does not block startup.
func (c *Controller) Reconfigure(cfg config.MQTTConfig) error {
	c.mu.Lock()
	old := c.client
	c.client = nil
	c.enabled = cfg.Enabled
	c.state = defaultState()
	c.mu.Unlock()

	if old != nil {
		old.Disconnect(250)
		appLog.Info("mqtt disconnected for reconfigure")
	}
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Broker) == "" {
		return fmt.Errorf("%w: empty broker", ErrInvalidCommand)
	}

	port := cfg.Port
	if port == 0 {
		port = config.DefaultMQTTPort
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, port))
	opts.SetClientID(clientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetDefaultPublishHandler(c.onMessage)
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		appLog.Warn("mqtt connection lost", "err", err)
	}

	client := c.factory(opts)

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	client.Connect()
	appLog.Info("mqtt connecting", "broker", cfg.Broker, "port", port)
	return nil
}

func clientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "homedash-" + host + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// onConnect subscribes to the state topics. Subscriptions are redone on
// every reconnect.
func (c *Controller) onConnect(mqtt.Client) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return
	}
	appLog.Info("mqtt connected")
	for _, topic := range []string{TopicDisplayState, TopicCurrentURL, TopicBrightnessState} {
		token := client.Subscribe(topic, 0, c.onMessage)
		if !token.WaitTimeout(publishTimeout) {
			appLog.Warn("mqtt subscribe timed out", "topic", topic)
			continue
		}
		if err := token.Error(); err != nil {
			appLog.Error("mqtt subscribe failed", err, "topic", topic)
		}
	}
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state[topic]; !ok {
		return
	}
	c.state[topic] = string(msg.Payload())
	appLog.Debug("mqtt state updated", "topic", topic, "value", c.state[topic])
}

// Connected reports whether commands can be sent.
func (c *Controller) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client.IsConnected()
}

// State returns the last known device state.
func (c *Controller) State() State {
	connected := c.Connected()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{
		Enabled:    c.enabled,
		Connected:  connected,
		Display:    c.state[TopicDisplayState],
		CurrentURL: c.state[TopicCurrentURL],
		Brightness: c.state[TopicBrightnessState],
	}
}

// Close disconnects.
func (c *Controller) Close() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
}

// DisplayOn turns the screen on.
func (c *Controller) DisplayOn() error { return c.publish(TopicDisplayCommand, "on") }

// DisplayOff turns the screen off.
func (c *Controller) DisplayOff() error { return c.publish(TopicDisplayCommand, "off") }

// Restart reboots the device.
func (c *Controller) Restart() error { return c.publish(TopicSystemRestart, "1") }

// Refresh reloads the kiosk browser.
func (c *Controller) Refresh() error { return c.publish(TopicBrowserRefresh, "1") }

// OpenURL points the kiosk browser at rawURL.
func (c *Controller) OpenURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url %q", ErrInvalidCommand, rawURL)
	}
	return c.publish(TopicBrowserURL, u.String())
}

// SetBrightness sets brightness from a percentage in [0, 100]; the device
// expects a fraction.
func (c *Controller) SetBrightness(percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: brightness %v out of range", ErrInvalidCommand, percent)
	}
	return c.publish(TopicBrightnessCommand, strconv.FormatFloat(percent/100, 'f', -1, 64))
}

func (c *Controller) publish(topic, payload string) (err error) {
	defer func() {
		c.metrics.RecordMQTTPublish(topic, err)
		if err != nil {
			appLog.Warn("mqtt command not published", "topic", topic, "err", err)
		}
	}()

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("remote: publish %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("remote: publish %s: %w", topic, err)
	}
	appLog.Info("mqtt command published", "topic", topic)
	return nil
}
