package remote

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homedash/internal/config"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	opts *mqtt.ClientOptions

	mu           sync.Mutex
	connected    bool
	subscribed   map[string]mqtt.MessageHandler
	published    []published
	publishErr   error
	disconnected bool
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	if f.opts.OnConnect != nil {
		f.opts.OnConnect(nil)
	}
	return &fakeToken{}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = cb
	return &fakeToken{}
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return &fakeToken{err: f.publishErr}
	}
	f.published = append(f.published, published{topic, qos, retained, payload.(string)})
	return &fakeToken{}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeClient) deliver(topic, payload string) {
	f.mu.Lock()
	cb := f.subscribed[topic]
	f.mu.Unlock()
	cb(nil, fakeMessage{topic: topic, payload: []byte(payload)})
}

type factory struct {
	clients []*fakeClient
}

func (fa *factory) build(opts *mqtt.ClientOptions) Client {
	c := &fakeClient{opts: opts, subscribed: map[string]mqtt.MessageHandler{}}
	fa.clients = append(fa.clients, c)
	return c
}

var enabled = config.MQTTConfig{Enabled: true, Broker: "broker.local", Port: 1883, Username: "u", Password: "p"}

func connectedController(t *testing.T) (*Controller, *fakeClient) {
	t.Helper()
	fa := &factory{}
	c := New(WithClientFactory(fa.build))
	require.NoError(t, c.Reconfigure(enabled))
	require.Len(t, fa.clients, 1)
	return c, fa.clients[0]
}

func TestReconfigureBuildsOptions(t *testing.T) {
	_, client := connectedController(t)

	opts := client.opts
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker.local:1883", opts.Servers[0].String())
	assert.Equal(t, "u", opts.Username)
	assert.True(t, strings.HasPrefix(opts.ClientID, "homedash-"))
	assert.True(t, opts.AutoReconnect)
}

func TestSubscribesAndTracksState(t *testing.T) {
	c, client := connectedController(t)

	assert.Len(t, client.subscribed, 3)
	assert.Equal(t, "unknown", c.State().Display)

	client.deliver(TopicDisplayState, "on")
	client.deliver(TopicCurrentURL, "http://dash.local/")
	client.deliver(TopicBrightnessState, "0.5")

	st := c.State()
	assert.True(t, st.Enabled)
	assert.True(t, st.Connected)
	assert.Equal(t, "on", st.Display)
	assert.Equal(t, "http://dash.local/", st.CurrentURL)
	assert.Equal(t, "0.5", st.Brightness)

	c.onMessage(nil, fakeMessage{topic: "other/topic", payload: []byte("x")})
	assert.Equal(t, "on", c.State().Display)
}

func TestCommands(t *testing.T) {
	c, client := connectedController(t)

	require.NoError(t, c.DisplayOn())
	require.NoError(t, c.DisplayOff())
	require.NoError(t, c.Restart())
	require.NoError(t, c.Refresh())
	require.NoError(t, c.OpenURL("https://example.com/board"))
	require.NoError(t, c.SetBrightness(75))

	assert.Equal(t, []published{
		{TopicDisplayCommand, 0, false, "on"},
		{TopicDisplayCommand, 0, false, "off"},
		{TopicSystemRestart, 0, false, "1"},
		{TopicBrowserRefresh, 0, false, "1"},
		{TopicBrowserURL, 0, false, "https://example.com/board"},
		{TopicBrightnessCommand, 0, false, "0.75"},
	}, client.published)
}

func TestCommandValidation(t *testing.T) {
	c, client := connectedController(t)

	assert.True(t, errors.Is(c.SetBrightness(101), ErrInvalidCommand))
	assert.True(t, errors.Is(c.SetBrightness(-1), ErrInvalidCommand))
	assert.True(t, errors.Is(c.OpenURL("ftp://example.com"), ErrInvalidCommand))
	assert.True(t, errors.Is(c.OpenURL(""), ErrInvalidCommand))
	assert.Empty(t, client.published)

	client.publishErr = errors.New("broker rejected")
	assert.Error(t, c.DisplayOn())
}

func TestNotConnected(t *testing.T) {
	c := New(WithClientFactory((&factory{}).build))
	assert.True(t, errors.Is(c.DisplayOn(), ErrNotConnected))
	assert.False(t, c.State().Connected)

	c, client := connectedController(t)
	client.Disconnect(0)
	assert.True(t, errors.Is(c.Refresh(), ErrNotConnected))
}

func TestReconfigureDisables(t *testing.T) {
	fa := &factory{}
	c := New(WithClientFactory(fa.build))
	require.NoError(t, c.Reconfigure(enabled))
	require.NoError(t, c.Reconfigure(config.MQTTConfig{Enabled: false}))

	assert.True(t, fa.clients[0].disconnected)
	assert.Len(t, fa.clients, 1)
	assert.False(t, c.State().Enabled)
	assert.True(t, errors.Is(c.DisplayOn(), ErrNotConnected))

	assert.Error(t, c.Reconfigure(config.MQTTConfig{Enabled: true}))
}
