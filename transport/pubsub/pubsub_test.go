package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/callflow/internal/runtime/metadata"
	"github.com/drblury/callflow/transport"
	"github.com/drblury/callflow/transport/channel"
	"github.com/drblury/callflow/transport/transporttest"
)

type event struct {
	name string
	args []any
}

func channelRegistry() *transport.Registry {
	reg := transport.NewRegistry()
	reg.RegisterWithCapabilities(channel.Name, channel.Build, channel.Capabilities())
	return reg
}

// fakeRegistry registers a broker backed by transporttest fakes.
func fakeRegistry(caps transport.Capabilities) (*transport.Registry, *transporttest.Publisher, *transporttest.Subscriber) {
	pub, sub := &transporttest.Publisher{}, &transporttest.Subscriber{}
	reg := transport.NewRegistry()
	reg.RegisterWithCapabilities("fake", func(context.Context, transport.BrokerConfig, watermill.LoggerAdapter) (transport.Broker, error) {
		return transport.Broker{Publisher: pub, Subscriber: sub}, nil
	}, caps)
	return reg, pub, sub
}

func TestLoopbackOverChannelBroker(t *testing.T) {
	client := NewClient(&transporttest.Config{}, WithRegistry(channelRegistry()))
	mgr, err := client.CreateManager(context.Background(), "local", nil)
	require.NoError(t, err)
	defer mgr.Close()

	conn, err := mgr.Connection("/testSocket", nil)
	require.NoError(t, err)

	events := make(chan event, 4)
	conn.OnAny(func(name string, args ...any) { events <- event{name, args} })
	named := make(chan []any, 4)
	conn.On("emitEvent", func(args ...any) { named <- args })

	connected := make(chan struct{}, 1)
	conn.On(transport.EventConnect, func(...any) { connected <- struct{}{} })
	require.NoError(t, conn.Connect())
	<-connected

	require.NoError(t, conn.Emit(context.Background(), "emitEvent", "test", map[string]any{"test": "test"}))

	select {
	case got := <-events:
		assert.Equal(t, "emitEvent", got.name)
		assert.Equal(t, []any{"test", map[string]any{"test": "test"}}, got.args)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case args := <-named:
		assert.Len(t, args, 2)
	case <-time.After(time.Second):
		t.Fatal("named handler not called")
	}

	disconnected := make(chan any, 1)
	conn.On(transport.EventDisconnect, func(args ...any) { disconnected <- args[0] })
	require.NoError(t, conn.Disconnect())
	assert.Equal(t, DisconnectReason, <-disconnected)
	require.NoError(t, conn.Disconnect())
}

func TestEmitPublishesHeaders(t *testing.T) {
	reg, pub, _ := fakeRegistry(transport.Capabilities{Name: "fake"})
	client := NewClient(&transporttest.Config{PubSubSystem: "fake"}, WithRegistry(reg))

	mgr, err := client.CreateManager(context.Background(), "remote", transport.Options{OptionPublishTopic: "requests"})
	require.NoError(t, err)
	conn, err := mgr.Connection("/chat", transport.Auth{"token": "abc"})
	require.NoError(t, err)

	require.NoError(t, conn.Emit(context.Background(), "message", "hi", 2))

	published := pub.Published("requests")
	require.Len(t, published, 1)
	assert.Equal(t, "message", published[0].Metadata.Get(metadata.EventKey))
	assert.Equal(t, "abc", published[0].Metadata.Get("callflow_auth_token"))
	assert.JSONEq(t, `["hi",2]`, string(published[0].Payload))

	c := conn.(*Connection)
	assert.Equal(t, "requests", c.PublishTopic())
	assert.Equal(t, "chat", c.SubscribeTopic())
}

func TestEmitRejectsOversizedEvents(t *testing.T) {
	reg, pub, _ := fakeRegistry(transport.Capabilities{Name: "fake", MaxMessageSize: 8})
	client := NewClient(&transporttest.Config{PubSubSystem: "fake"}, WithRegistry(reg))

	mgr, err := client.CreateManager(context.Background(), "remote", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), mgr.(*Manager).Capabilities().MaxMessageSize)

	conn, err := mgr.Connection("/chat", nil)
	require.NoError(t, err)

	err = conn.Emit(context.Background(), "message", "a long argument")
	assert.ErrorContains(t, err, "accepts at most 8")
	assert.Empty(t, pub.Published("chat"))
}

func TestDecodeFailureRaisesErrorSignal(t *testing.T) {
	reg, _, sub := fakeRegistry(transport.Capabilities{Name: "fake"})
	client := NewClient(&transporttest.Config{PubSubSystem: "fake"}, WithRegistry(reg))

	mgr, err := client.CreateManager(context.Background(), "remote", transport.Options{OptionSubscribeTopic: "replies"})
	require.NoError(t, err)

	signals := make(chan transport.Signal, 1)
	mgr.On(transport.ManagerError, func(sig transport.Signal) { signals <- sig })

	conn, err := mgr.Connection("/chat", nil)
	require.NoError(t, err)
	events := make(chan event, 1)
	conn.OnAny(func(name string, args ...any) { events <- event{name, args} })
	require.NoError(t, conn.Connect())

	bad := message.NewMessage("1", []byte(`{not json`))
	bad.Metadata.Set(metadata.EventKey, "reply")
	sub.Deliver("replies", bad)

	headerless := message.NewMessage("2", []byte(`[]`))
	sub.Deliver("replies", headerless)

	good := message.NewMessage("3", []byte(`[{"ok":true}]`))
	good.Metadata.Set(metadata.EventKey, "reply")
	sub.Deliver("replies", good)

	select {
	case sig := <-signals:
		assert.ErrorContains(t, sig.Err, "decode reply")
	case <-time.After(time.Second):
		t.Fatal("no error signal")
	}
	select {
	case got := <-events:
		assert.Equal(t, "reply", got.name)
		assert.Equal(t, []any{map[string]any{"ok": true}}, got.args)
	case <-time.After(time.Second):
		t.Fatal("good event not delivered")
	}

	require.NoError(t, conn.Disconnect())
	require.NoError(t, mgr.Close())
}

func TestSubscribeFailure(t *testing.T) {
	reg, _, sub := fakeRegistry(transport.Capabilities{Name: "fake"})
	sub.Err = assert.AnError
	client := NewClient(&transporttest.Config{PubSubSystem: "fake"}, WithRegistry(reg))

	mgr, err := client.CreateManager(context.Background(), "remote", nil)
	require.NoError(t, err)

	var signalled error
	mgr.On(transport.ManagerError, func(sig transport.Signal) { signalled = sig.Err })

	conn, err := mgr.Connection("/chat", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, conn.Connect(), assert.AnError)
	assert.ErrorIs(t, signalled, assert.AnError)
}

func TestCreateManagerErrors(t *testing.T) {
	_, err := NewClient(nil).CreateManager(context.Background(), "x", nil)
	assert.ErrorContains(t, err, "broker config is required")

	_, err = NewClient(&transporttest.Config{PubSubSystem: "missing"}, WithRegistry(transport.NewRegistry())).
		CreateManager(context.Background(), "x", nil)
	assert.ErrorContains(t, err, `unknown broker "missing"`)
}

func TestManagerCloseRejectsNewConnections(t *testing.T) {
	reg, pub, _ := fakeRegistry(transport.Capabilities{Name: "fake"})
	client := NewClient(&transporttest.Config{PubSubSystem: "fake"}, WithRegistry(reg))

	mgr, err := client.CreateManager(context.Background(), "remote", nil)
	require.NoError(t, err)
	first, err := mgr.Connection("/chat", nil)
	require.NoError(t, err)
	again, err := mgr.Connection("/chat", nil)
	require.NoError(t, err)
	assert.Same(t, first, again)

	require.NoError(t, mgr.Close())
	assert.True(t, pub.Closed)
	_, err = mgr.Connection("/other", nil)
	assert.Error(t, err)
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "root", TopicFor("/"))
	assert.Equal(t, "root", TopicFor(""))
	assert.Equal(t, "testSocket", TopicFor("/testSocket"))
	assert.Equal(t, "chat.room", TopicFor("/chat/room/"))
}
