package runtime

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/drblury/callflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
)

// IntrospectionHandler serves read-only JSON views of the registries, the
// pending subscriptions and the process:
//
//	GET /api/endpoints
//	GET /api/endpoints/{name}
//	GET /api/connections
//	GET /api/subscriptions
//	GET /api/runtime
func (c *Correlator) IntrospectionHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if origins := c.Conf.IntrospectionCORSAllowedOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/endpoints", c.handleGetEndpoints)
		r.Get("/endpoints/{name}", c.handleGetEndpoint)
		r.Get("/connections", c.handleGetConnections)
		r.Get("/subscriptions", c.handleGetSubscriptions)
		r.Get("/runtime", c.handleGetRuntime)
	})
	return r
}

func (c *Correlator) handleGetEndpoints(w http.ResponseWriter, _ *http.Request) {
	endpoints := c.Endpoints()
	for i := range endpoints {
		endpoints[i].Stats = c.metrics.EndpointStats(endpoints[i].Name)
	}
	c.writeJSON(w, http.StatusOK, endpoints)
}

func (c *Correlator) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, info := range c.Endpoints() {
		if info.Name == name {
			info.Stats = c.metrics.EndpointStats(name)
			c.writeJSON(w, http.StatusOK, info)
			return
		}
	}
	c.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint " + name})
}

func (c *Correlator) handleGetConnections(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, http.StatusOK, c.Connections())
}

func (c *Correlator) handleGetSubscriptions(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, http.StatusOK, c.Subscriptions())
}

func (c *Correlator) handleGetRuntime(w http.ResponseWriter, _ *http.Request) {
	usage := c.resources.Snapshot()
	usage.PendingSubscriptions = c.subs.len()
	c.writeJSON(w, http.StatusOK, usage)
}

func (c *Correlator) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		c.Logger.Error("Failed to encode introspection response", err, loggingpkg.LogFields{"status": status})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
