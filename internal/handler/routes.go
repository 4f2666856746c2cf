package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ollama-proxy-go/internal/config"
	"ollama-proxy-go/internal/metrics"
)

// proxyMethods are the inbound methods accepted on the universal mount.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// RegisterRoutes wires all route handlers onto the Echo instance. The proxy
// mounts at /* so any upstream path passes through; the static health,
// status and metrics routes take precedence over the catch-all.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	for _, method := range proxyMethods {
		e.Add(method, "/*", proxy.Handle)
	}
}
