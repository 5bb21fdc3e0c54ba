package runtime

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	configpkg "github.com/drblury/callflow/internal/runtime/config"
	errspkg "github.com/drblury/callflow/internal/runtime/errors"
	"github.com/drblury/callflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
	"github.com/drblury/callflow/transport"
)

// DeclarativeHooks attaches lifecycle hooks to managers and connections
// declared in a Config, keyed by their configured key.
type DeclarativeHooks struct {
	Managers    map[string]ManagerHooks
	Connections map[string]ConnectionHooks
}

// ApplyConfig registers the managers, connections and connection endpoints
// declared in cfg, in that order. Every filter expression is compiled before
// anything is registered, so a bad expression leaves the registries untouched.
func (c *Correlator) ApplyConfig(cfg *configpkg.Config, hooks DeclarativeHooks) error {
	if cfg == nil {
		return errspkg.ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return errspkg.NewConfigValidationError(err)
	}

	endpoints := make([]ConnectionEndpoint, 0, len(cfg.Endpoints))
	for i, decl := range cfg.Endpoints {
		ep, err := c.compileEndpoint(decl)
		if err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		endpoints = append(endpoints, ep)
	}

	for _, m := range cfg.Managers {
		params := ManagerParams{URL: m.URL, Port: m.Port, Options: transport.Options(m.Options)}
		if err := c.RegisterConnectionManager(m.Key, params, hooks.Managers[m.Key]); err != nil {
			return fmt.Errorf("manager %s: %w", m.Key, err)
		}
	}
	for _, conn := range cfg.Connections {
		auth := transport.Auth(conn.Auth)
		if err := c.RegisterConnection(conn.Manager, conn.Key, conn.Namespace, auth, hooks.Connections[conn.Key]); err != nil {
			return fmt.Errorf("connection %s: %w", conn.Key, err)
		}
	}
	for _, ep := range endpoints {
		if err := c.RegisterConnectionEndpoint(ep); err != nil {
			return fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}
	}

	c.Logger.Info("Applied declarative config", loggingpkg.LogFields{
		"managers":    len(cfg.Managers),
		"connections": len(cfg.Connections),
		"endpoints":   len(cfg.Endpoints),
	})
	return nil
}

func (c *Correlator) compileEndpoint(decl configpkg.EndpointConfig) (ConnectionEndpoint, error) {
	success, err := c.compileFilter(decl.Name, "success", decl.Success)
	if err != nil {
		return ConnectionEndpoint{}, err
	}
	failure, err := c.compileFilter(decl.Name, "error", decl.Error)
	if err != nil {
		return ConnectionEndpoint{}, err
	}
	return ConnectionEndpoint{
		Name:          decl.Name,
		ConnectionKey: decl.Connection,
		EventName:     decl.Event,
		ReplyEvents:   append([]string(nil), decl.ReplyEvents...),
		Success:       success,
		Error:         failure,
	}, nil
}

// filterEnv is the compile-time shape of a filter's environment.
func filterEnv() map[string]any {
	return map[string]any{
		"event": "",
		"args":  []any{},
	}
}

// CompileFilter turns a boolean expression over `event` and `args` into an
// EventFilter. An empty expression yields nil, which accepts every event.
// Args are seen as their JSON form, so structs appear as maps.
func CompileFilter(source string) (EventFilter, error) {
	program, err := compileProgram(source)
	if err != nil || program == nil {
		return nil, err
	}
	return func(event string, args ...any) bool {
		ok, _ := runFilter(program, event, args)
		return ok
	}, nil
}

func compileProgram(source string) (*vm.Program, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(filterEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	return program, nil
}

// compileFilter is CompileFilter with evaluation failures logged.
func (c *Correlator) compileFilter(endpoint, variant, source string) (EventFilter, error) {
	program, err := compileProgram(source)
	if err != nil {
		return nil, fmt.Errorf("%s filter: %w", variant, err)
	}
	if program == nil {
		return nil, nil
	}
	return func(event string, args ...any) bool {
		ok, err := runFilter(program, event, args)
		if err != nil {
			c.Logger.Debug("Filter evaluation failed", loggingpkg.LogFields{
				"endpoint": endpoint,
				"variant":  variant,
				"event":    event,
				"error":    err.Error(),
			})
		}
		return ok
	}, nil
}

func runFilter(program *vm.Program, event string, args []any) (bool, error) {
	normalized, err := normalizeArgs(args)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, map[string]any{
		"event": event,
		"args":  normalized,
	})
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

// normalizeArgs maps args onto plain JSON values.
func normalizeArgs(args []any) ([]any, error) {
	if len(args) == 0 {
		return []any{}, nil
	}
	raw, err := jsoncodec.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out []any
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
