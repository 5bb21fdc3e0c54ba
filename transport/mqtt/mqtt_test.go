package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/callflow/transport"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type pendingToken struct{ doneToken }

func (pendingToken) Done() <-chan struct{} { return make(chan struct{}) }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	paho.Client

	mu            sync.Mutex
	connectToken  paho.Token
	published     []published
	subscriptions map[string]paho.MessageHandler
	subscribes    int
	unsubscribed  []string
	disconnected  bool
}

func (f *fakeClient) Connect() paho.Token {
	if f.connectToken != nil {
		return f.connectToken
	}
	return doneToken{}
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, qos, payload.([]byte)})
	return doneToken{}
}

func (f *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscriptions == nil {
		f.subscriptions = make(map[string]paho.MessageHandler)
	}
	f.subscriptions[topic] = cb
	f.subscribes++
	return doneToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return doneToken{}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func stubPaho(t *testing.T, client *fakeClient) **paho.ClientOptions {
	t.Helper()
	original := PahoFactory
	t.Cleanup(func() { PahoFactory = original })

	var captured *paho.ClientOptions
	PahoFactory = func(opts *paho.ClientOptions) paho.Client {
		captured = opts
		return client
	}
	return &captured
}

func TestCreateManagerConfiguresClient(t *testing.T) {
	captured := stubPaho(t, &fakeClient{})

	_, err := NewClient().CreateManager(context.Background(), "tcp://localhost:1883", transport.Options{
		OptionClientID: "worker-1",
		OptionUsername: "bot",
		OptionPassword: "secret",
	})
	require.NoError(t, err)

	opts := *captured
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Equal(t, "worker-1", opts.ClientID)
	assert.Equal(t, "bot", opts.Username)
	assert.True(t, opts.AutoReconnect)
	assert.NotNil(t, opts.OnConnect)
	assert.NotNil(t, opts.OnConnectionLost)
	assert.NotNil(t, opts.OnReconnecting)
}

func TestCreateManagerConnectErrors(t *testing.T) {
	stubPaho(t, &fakeClient{connectToken: doneToken{err: errors.New("not authorized")}})
	_, err := NewClient().CreateManager(context.Background(), "tcp://localhost:1883", nil)
	assert.ErrorContains(t, err, "not authorized")

	stubPaho(t, &fakeClient{connectToken: pendingToken{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewClient().CreateManager(ctx, "tcp://localhost:1883", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLifecycleHandlersBecomeSignals(t *testing.T) {
	client := &fakeClient{}
	captured := stubPaho(t, client)

	mgr, err := NewClient().CreateManager(context.Background(), "tcp://localhost:1883", nil)
	require.NoError(t, err)
	opts := *captured

	got := make(map[transport.ManagerEventName][]transport.Signal)
	for _, event := range transport.ManagerEvents {
		event := event
		mgr.On(event, func(sig transport.Signal) { got[event] = append(got[event], sig) })
	}

	conn, err := mgr.Connection("/chat", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Connect())

	lost := errors.New("connection reset")
	opts.OnConnect(client)
	assert.Empty(t, got[transport.ManagerReconnect], "first connect is not a reconnect")

	opts.OnConnectionLost(client, lost)
	opts.OnReconnecting(client, opts)
	opts.OnReconnecting(client, opts)
	opts.OnConnect(client)

	assert.Equal(t, []transport.Signal{{Err: lost}}, got[transport.ManagerError])
	assert.Equal(t, []transport.Signal{{Err: lost, Attempt: 1}, {Err: lost, Attempt: 2}}, got[transport.ManagerReconnectError])
	assert.Equal(t, []transport.Signal{{Attempt: 2}}, got[transport.ManagerReconnect])
	assert.Equal(t, 2, client.subscribes, "subscriptions are restored after a reconnect")
}

func TestConnectionEmitAndReceive(t *testing.T) {
	client := &fakeClient{}
	stubPaho(t, client)

	mgr, err := NewClient().CreateManager(context.Background(), "tcp://localhost:1883", transport.Options{OptionQoS: 0})
	require.NoError(t, err)
	conn, err := mgr.Connection("/chat/room", nil)
	require.NoError(t, err)

	require.NoError(t, conn.Emit(context.Background(), "message", "hi", 1))
	require.Len(t, client.published, 1)
	assert.Equal(t, "chat/room/message", client.published[0].topic)
	assert.Equal(t, byte(0), client.published[0].qos)
	assert.JSONEq(t, `["hi",1]`, string(client.published[0].payload))

	var events []string
	var lastArgs []any
	conn.OnAny(func(event string, args ...any) {
		events = append(events, event)
		lastArgs = args
	})
	var named int
	conn.On("message_ack", func(...any) { named++ })

	require.NoError(t, conn.Connect())
	handler := client.subscriptions["chat/room/#"]
	require.NotNil(t, handler)

	handler(client, fakeMessage{topic: "chat/room/message_ack", payload: []byte(`[{"ok":true}]`)})
	assert.Equal(t, []string{"message_ack"}, events)
	assert.Equal(t, []any{map[string]any{"ok": true}}, lastArgs)
	assert.Equal(t, 1, named)

	var reason any
	conn.On(transport.EventDisconnect, func(args ...any) { reason = args[0] })
	require.NoError(t, conn.Disconnect())
	assert.Equal(t, DisconnectReason, reason)
	assert.Equal(t, []string{"chat/room/#"}, client.unsubscribed)

	require.NoError(t, mgr.Close())
	assert.True(t, client.disconnected)
	_, err = mgr.Connection("/other", nil)
	assert.Error(t, err)
}

func TestMalformedPayloadRaisesError(t *testing.T) {
	client := &fakeClient{}
	stubPaho(t, client)

	mgr, err := NewClient().CreateManager(context.Background(), "tcp://localhost:1883", nil)
	require.NoError(t, err)
	var signalled error
	mgr.On(transport.ManagerError, func(sig transport.Signal) { signalled = sig.Err })

	conn, err := mgr.Connection("/", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Connect())

	client.subscriptions["root/#"](client, fakeMessage{topic: "root/reply", payload: []byte(`{oops`)})
	assert.ErrorContains(t, signalled, "decode root/reply")
}

func TestTopicPrefix(t *testing.T) {
	assert.Equal(t, "root", TopicPrefix("/"))
	assert.Equal(t, "testSocket", TopicPrefix("/testSocket"))
	assert.Equal(t, "chat/room", TopicPrefix("/chat/room/"))
}
