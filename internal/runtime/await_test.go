package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/callflow/internal/runtime/errors"
)

func TestAwait_UnknownEndpoint(t *testing.T) {
	c, _ := newTestCorrelator(t)

	_, err := c.Await(testContext(t), "missing", "")
	assert.ErrorIs(t, err, errspkg.ErrUnknownEndpoint)
}

func TestAwait_CallableErrorRejects(t *testing.T) {
	c, _ := newTestCorrelator(t)
	require.NoError(t, c.RegisterCallableEndpoint("testError", func(context.Context, ...any) (any, error) {
		return nil, errors.New("this is an error")
	}))

	ctx := testContext(t)
	pending, err := c.Prepare(ctx, "testError", "err-1")
	require.NoError(t, err)
	_, err = c.Send(ctx, "testError", "err-1")
	require.NoError(t, err)

	payload, err := pending.Wait()
	assert.Nil(t, payload)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.ErrorIs(t, err, errspkg.ErrRemote)
	assert.Equal(t, "testError", remote.Endpoint)
	assert.Equal(t, "this is an error", remote.Message())
	assert.JSONEq(t, `{"error":"this is an error"}`, string(remote.Payload))
}

func TestAwait_FiltersByCorrelationID(t *testing.T) {
	c, _ := newTestCorrelator(t, withScheduler(inlineScheduler))
	require.NoError(t, c.RegisterCallableEndpoint("echo", echoCallable))

	ctx := testContext(t)
	mine, err := c.Prepare(ctx, "echo", "mine")
	require.NoError(t, err)

	_, err = c.Send(ctx, "echo", "other", "not for me")
	require.NoError(t, err)
	_, err = c.Send(ctx, "echo", "mine", "for me")
	require.NoError(t, err)

	payload, err := mine.Wait()
	require.NoError(t, err)
	assert.JSONEq(t, `"for me"`, payload.String())
}

func TestAwait_WithoutIDTakesNextOccurrence(t *testing.T) {
	c, _ := newTestCorrelator(t, withScheduler(inlineScheduler))
	require.NoError(t, c.RegisterCallableEndpoint("echo", echoCallable))

	ctx := testContext(t)
	next, err := c.Prepare(ctx, "echo", "")
	require.NoError(t, err)

	_, err = c.Send(ctx, "echo", "", "first")
	require.NoError(t, err)
	_, err = c.Send(ctx, "echo", "", "second")
	require.NoError(t, err)

	payload, err := next.Wait()
	require.NoError(t, err)
	assert.JSONEq(t, `"first"`, payload.String(), "resolves once, with the earliest match")
}

func TestAwait_ErrorFirstWins(t *testing.T) {
	c, _ := newTestCorrelator(t)
	ctx := testContext(t)
	require.NoError(t, c.RegisterCallableEndpoint("flaky", echoCallable))

	pending, err := c.Prepare(ctx, "flaky", "id")
	require.NoError(t, err)

	require.NoError(t, c.publish(ctx, "flaky", true, []string{"id"}, Payload(`{"error":"first"}`)))
	require.NoError(t, c.publish(ctx, "flaky", false, []string{"id"}, Payload(`"second"`)))

	_, err = pending.Wait()
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "first", remote.Message())
}

func TestAwait_FanOut(t *testing.T) {
	c, _ := newTestCorrelator(t)
	require.NoError(t, c.RegisterCallableEndpoint("test", testCallable))
	ctx := testContext(t)

	waiters := make([]*Pending, 3)
	for i := range waiters {
		p, err := c.Prepare(ctx, "test", "shared")
		require.NoError(t, err)
		waiters[i] = p
	}

	_, err := c.Send(ctx, "test", "shared")
	require.NoError(t, err)

	for _, p := range waiters {
		payload, err := p.Wait()
		require.NoError(t, err)
		assert.JSONEq(t, `["test",{"test":"test"}]`, payload.String())
	}
}

func TestAwait_NoReplayForLateListeners(t *testing.T) {
	c, _ := newTestCorrelator(t, withScheduler(inlineScheduler))
	require.NoError(t, c.RegisterCallableEndpoint("test", testCallable))

	_, err := c.Send(testContext(t), "test", "early")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Await(ctx, "test", "early")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwait_ContextCancellation(t *testing.T) {
	c, _ := newTestCorrelator(t)
	require.NoError(t, c.RegisterCallableEndpoint("test", testCallable))

	ctx, cancel := context.WithCancel(context.Background())
	pending, err := c.Prepare(ctx, "test", "never")
	require.NoError(t, err)
	cancel()

	_, err = pending.Wait()
	assert.ErrorIs(t, err, context.Canceled)

	stats := c.Metrics().EndpointStats("test")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.AwaitsCancelled)
}

func TestPending_Close(t *testing.T) {
	c, _ := newTestCorrelator(t)
	require.NoError(t, c.RegisterCallableEndpoint("test", testCallable))

	pending, err := c.Prepare(testContext(t), "test", "abandoned")
	require.NoError(t, err)
	pending.Close()

	select {
	case <-pending.listener.Done():
	case <-time.After(time.Second):
		t.Fatal("listener still running after Close")
	}
}

func TestAwaitFilter(t *testing.T) {
	filter := awaitFilter("ep", "id")

	assert.True(t, filter(Message{Kind: "ep", CorrelationIDs: []string{"x", "id"}}))
	assert.True(t, filter(Message{Kind: "ep_error", CorrelationIDs: []string{"id"}}))
	assert.False(t, filter(Message{Kind: "ep", CorrelationIDs: []string{"x"}}))
	assert.False(t, filter(Message{Kind: "ep", CorrelationIDs: nil}))
	assert.False(t, filter(Message{Kind: "other", CorrelationIDs: []string{"id"}}))
	assert.False(t, filter(Message{Kind: "ep_error_error", CorrelationIDs: []string{"id"}}))

	anyID := awaitFilter("ep", "")
	assert.True(t, anyID(Message{Kind: "ep"}))
	assert.True(t, anyID(Message{Kind: "ep_error"}))
}
