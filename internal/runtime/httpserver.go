package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
)

type httpState int

const (
	httpPending httpState = iota
	httpServing
	httpStopped
)

// RegisterHTTPHandler mounts handler on the server listening on port. Ports
// registered before New returns are served once construction finishes; a
// port first seen afterwards gets its own server right away. Nothing is
// served once the Correlator is closed.
func (c *Correlator) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()

	if c.httpRouters == nil {
		c.httpRouters = make(map[int]*http.ServeMux)
	}

	mux, ok := c.httpRouters[port]
	if !ok {
		mux = http.NewServeMux()
		c.httpRouters[port] = mux
		if c.httpState == httpServing {
			c.serveLocked(port, mux)
		}
	}

	mux.Handle(pattern, handler)
}

func (c *Correlator) enableMetrics() error {
	if err := c.metrics.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if err := c.bus.instrument(c.metrics.registerer, c.metrics.namespace); err != nil {
		return err
	}
	if c.Conf.MetricsPort > 0 {
		c.RegisterHTTPHandler(c.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(c.metrics.Gatherer(), promhttp.HandlerOpts{}))
	}
	return nil
}

func (c *Correlator) startHTTPServers() {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()

	if c.httpState != httpPending {
		return
	}
	c.httpState = httpServing
	for port, mux := range c.httpRouters {
		c.serveLocked(port, mux)
	}
}

// serveLocked must be called with httpMu held.
func (c *Correlator) serveLocked(port int, mux *http.ServeMux) {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	c.httpServers = append(c.httpServers, srv)

	c.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}()
}

func (c *Correlator) stopHTTPServers() error {
	c.httpMu.Lock()
	servers := c.httpServers
	c.httpServers = nil
	c.httpState = httpStopped
	c.httpMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
