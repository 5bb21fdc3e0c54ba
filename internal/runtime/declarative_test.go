package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/callflow/internal/runtime/config"
	errspkg "github.com/drblury/callflow/internal/runtime/errors"
)

const declarativeTOML = `
[[managers]]
key = "manager"
url = "http://localhost"
port = 3000
options = { echo = false }

[[connections]]
key = "test"
manager = "manager"
namespace = "/"
auth = { token = "secret" }

[[endpoints]]
name = "classified"
connection = "test"
event = "reply"
reply_events = ["failure"]
success = 'event == "reply" && args[0].kind == "test"'
error = 'event == "failure"'

[[endpoints]]
name = "plain"
connection = "test"
event = "plainEvent"
`

func loadDeclarative(t *testing.T, body string) *configpkg.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := configpkg.LoadFile(path)
	require.NoError(t, err)
	return cfg
}

func TestApplyConfig_RegistersDeclarations(t *testing.T) {
	c, client := newTestCorrelator(t)
	cfg := loadDeclarative(t, declarativeTOML)

	require.NoError(t, c.ApplyConfig(cfg, DeclarativeHooks{}))

	conns := c.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "test", conns[0].Key)
	assert.Equal(t, testAddress, conns[0].Address)

	endpoints := c.Endpoints()
	require.Len(t, endpoints, 2)
	assert.Equal(t, "classified", endpoints[0].Name)
	assert.Equal(t, []string{"failure"}, endpoints[0].ReplyEvents)
	assert.Equal(t, "plain", endpoints[1].Name)

	require.NoError(t, c.Connect())
	assert.Equal(t, "secret", loopbackConnection(t, client).Auth()["token"])
}

func TestApplyConfig_FiltersClassifyEvents(t *testing.T) {
	c, client := newTestCorrelator(t)
	require.NoError(t, c.ApplyConfig(loadDeclarative(t, declarativeTOML), DeclarativeHooks{}))
	require.NoError(t, c.Connect())
	ctx := testContext(t)
	conn := loopbackConnection(t, client)

	_, err := c.Send(ctx, "classified", "d-1")
	require.NoError(t, err)
	pending, err := c.Prepare(ctx, "classified", "d-1")
	require.NoError(t, err)
	conn.Inject("reply", map[string]any{"kind": "test", "value": 1})

	payload, err := pending.Wait()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"kind":"test","value":1}]`, payload.String())

	_, err = c.Send(ctx, "classified", "d-2")
	require.NoError(t, err)
	pending, err = c.Prepare(ctx, "classified", "d-2")
	require.NoError(t, err)
	conn.Inject("failure", "rejected")

	_, err = pending.Wait()
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.JSONEq(t, `["rejected"]`, string(remote.Payload))
}

func TestApplyConfig_BadExpressionRegistersNothing(t *testing.T) {
	c, _ := newTestCorrelator(t)
	cfg := loadDeclarative(t, declarativeTOML)
	cfg.Endpoints[1].Success = "event ==="

	err := c.ApplyConfig(cfg, DeclarativeHooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoints[1]")
	assert.Contains(t, err.Error(), "success filter")

	assert.Empty(t, c.Connections())
	assert.Empty(t, c.Endpoints())
}

func TestApplyConfig_NonBooleanExpressionIsRejected(t *testing.T) {
	c, _ := newTestCorrelator(t)
	cfg := loadDeclarative(t, declarativeTOML)
	cfg.Endpoints[0].Error = `"not a bool"`

	assert.Error(t, c.ApplyConfig(cfg, DeclarativeHooks{}))
}

func TestApplyConfig_Validation(t *testing.T) {
	c, _ := newTestCorrelator(t)

	assert.ErrorIs(t, c.ApplyConfig(nil, DeclarativeHooks{}), errspkg.ErrConfigRequired)

	cfg := &configpkg.Config{
		Connections: []configpkg.ConnectionConfig{{Key: "orphan", Manager: "missing"}},
	}
	err := c.ApplyConfig(cfg, DeclarativeHooks{})
	var validation errspkg.ConfigValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, err.Error(), `unknown manager "missing"`)
}

func TestApplyConfig_RegistrationConflict(t *testing.T) {
	c, _ := newTestCorrelator(t)
	require.NoError(t, c.RegisterCallableEndpoint("plain", testCallable))

	err := c.ApplyConfig(loadDeclarative(t, declarativeTOML), DeclarativeHooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint plain")
}

func TestApplyConfig_Hooks(t *testing.T) {
	c, _ := newTestCorrelator(t, withScheduler(inlineScheduler))

	var connected []string
	hooks := DeclarativeHooks{
		Connections: map[string]ConnectionHooks{
			"test": {OnConnect: func(_ context.Context, e ConnectionEvent) {
				connected = append(connected, e.ConnectionKey)
			}},
		},
	}
	require.NoError(t, c.ApplyConfig(loadDeclarative(t, declarativeTOML), hooks))
	require.NoError(t, c.Connect())

	assert.Equal(t, []string{"test"}, connected)
}

func TestCompileFilter(t *testing.T) {
	filter, err := CompileFilter("")
	require.NoError(t, err)
	assert.Nil(t, filter, "an empty expression accepts everything")

	filter, err = CompileFilter(`event == "reply" && len(args) == 2 && args[1] > 10`)
	require.NoError(t, err)
	require.NotNil(t, filter)

	assert.True(t, filter("reply", "x", 11))
	assert.False(t, filter("reply", "x", 3))
	assert.False(t, filter("other", "x", 11))
	assert.False(t, filter("reply"))

	filter, err = CompileFilter(`args[0] == "x"`)
	require.NoError(t, err)
	assert.False(t, filter("reply"), "evaluation errors count as a rejection")

	type point struct {
		X int `json:"x"`
	}
	filter, err = CompileFilter(`args[0].x == 4`)
	require.NoError(t, err)
	assert.True(t, filter("p", point{X: 4}), "structs are seen through their JSON form")

	_, err = CompileFilter("args[")
	assert.Error(t, err)
}
