package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
)

func newTestBus(t *testing.T) *bus {
	t.Helper()
	b := newBus("test.broadcast", 0, loggingpkg.NewNopLogger())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBus_PublishOrderPerListener(t *testing.T) {
	b := newTestBus(t)
	ctx := testContext(t)

	var first, second collector[string]
	l1, err := b.Listen(ctx, nil, func(msg Message) { first.add(msg.Kind) })
	require.NoError(t, err)
	defer l1.Close()
	l2, err := b.Listen(ctx, nil, func(msg Message) { second.add(msg.Kind) })
	require.NoError(t, err)
	defer l2.Close()

	for _, kind := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.Publish(ctx, Message{Kind: kind, Payload: Payload(`{}`)}))
	}

	want := []string{"a", "b", "c", "d"}
	assert.Equal(t, want, first.snapshot(), "publish returns after every listener handled the message")
	assert.Equal(t, want, second.snapshot())
}

func TestBus_CarriesCorrelationIDsAndPayload(t *testing.T) {
	b := newTestBus(t)
	ctx := testContext(t)

	got := make(chan Message, 1)
	l, err := b.Listen(ctx, nil, func(msg Message) { got <- msg })
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, b.Publish(ctx, Message{
		Kind:           "ep_error",
		CorrelationIDs: []string{"x", "y"},
		Payload:        Payload(`{"error":"boom"}`),
	}))

	msg := <-got
	assert.Equal(t, "ep_error", msg.Kind)
	assert.Equal(t, []string{"x", "y"}, msg.CorrelationIDs)
	assert.JSONEq(t, `{"error":"boom"}`, msg.Payload.String())
	assert.True(t, msg.IsError("ep"))
	assert.True(t, msg.Has("y"))
}

func TestBus_FilterSkipsHandler(t *testing.T) {
	b := newTestBus(t)
	ctx := testContext(t)

	var kinds collector[string]
	l, err := b.Listen(ctx, func(msg Message) bool { return msg.Kind == "keep" }, func(msg Message) {
		kinds.add(msg.Kind)
	})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, b.Publish(ctx, Message{Kind: "drop"}))
	require.NoError(t, b.Publish(ctx, Message{Kind: "keep"}))

	assert.Equal(t, []string{"keep"}, kinds.snapshot())
}

func TestBus_NoReplay(t *testing.T) {
	b := newTestBus(t)
	ctx := testContext(t)

	require.NoError(t, b.Publish(ctx, Message{Kind: "before"}))

	var kinds collector[string]
	l, err := b.Listen(ctx, nil, func(msg Message) { kinds.add(msg.Kind) })
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, b.Publish(ctx, Message{Kind: "after"}))
	assert.Equal(t, []string{"after"}, kinds.snapshot())
}

func TestBus_ListenerStopsWithContext(t *testing.T) {
	b := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	l, err := b.Listen(ctx, nil, func(Message) {})
	require.NoError(t, err)

	cancel()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	require.NoError(t, b.Publish(context.Background(), Message{Kind: "late"}), "publishing without listeners succeeds")
}

func TestBus_CloseStopsListeners(t *testing.T) {
	b := newBus("test.broadcast", 0, loggingpkg.NewNopLogger())

	l, err := b.Listen(context.Background(), nil, func(Message) {})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	select {
	case <-l.Done():
	default:
		t.Fatal("Close returned before the listener stopped")
	}

	_, err = b.Listen(context.Background(), nil, func(Message) {})
	assert.Error(t, err)
	assert.Error(t, b.Publish(context.Background(), Message{Kind: "closed"}))
}

func TestBus_Instrument(t *testing.T) {
	b := newTestBus(t)
	registry := prometheus.NewRegistry()

	require.NoError(t, b.instrument(registry, "callflow_test"))
	require.NoError(t, b.Publish(testContext(t), Message{Kind: "counted"}))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
