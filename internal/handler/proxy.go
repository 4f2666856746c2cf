package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"ollama-proxy-go/internal/metrics"
	"ollama-proxy-go/internal/model"
	"ollama-proxy-go/internal/observe"
	"ollama-proxy-go/internal/service"
)

// relayBufSize is the chunk size for event-stream relay reads.
const relayBufSize = 32 * 1024

// ProxyHandler forwards inbound requests to the upstream Ollama server and
// relays the response back, byte-faithfully, while the observer logs what
// passes through.
type ProxyHandler struct {
	forwarder *service.Forwarder
	observer  *observe.Observer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional;
// pass nil to disable relay metrics recording.
func NewProxyHandler(fwd *service.Forwarder, obs *observe.Observer, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		forwarder: fwd,
		observer:  obs,
		logger:    logger.With("component", "proxy_handler"),
		metrics:   m,
	}
}

// Handle forwards the request upstream and relays the response. Event-stream
// responses are relayed chunk by chunk with a flush after every chunk;
// everything else is buffered fully, logged, and written in one piece.
// Response headers are copied back verbatim in both cases.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read request body")
	}

	h.observer.Request(req.Method, req.URL.Path, body)

	resp, err := h.forwarder.Forward(&model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.EventStream() {
		return h.relayStream(c, resp)
	}
	return h.relayBuffered(c, resp)
}

// relayBuffered reads the whole upstream body before sending anything, so
// the client gets correct content-length framing; the cost is full
// end-to-end latency on large responses. A read failure here surfaces as a
// 502 because nothing has been written yet.
func (h *ProxyHandler) relayBuffered(c echo.Context, resp *model.ProxyResponse) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return h.mapError(c, err)
	}

	h.observer.Response(resp.StatusCode, body)
	if h.metrics != nil {
		h.metrics.RelayedResponses.WithLabelValues(metrics.ModeBuffered).Inc()
		h.metrics.RelayedBytes.WithLabelValues(metrics.ModeBuffered).Add(float64(len(body)))
	}

	copyHeaders(c.Response().Header(), resp.Header)
	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(body); err != nil {
		h.logger.Error("writing buffered response",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

// relayStream copies the upstream body chunk by chunk, flushing after each
// chunk so every event reaches the client before the next one is requested.
// The observer sees each chunk after it has been relayed. A failure
// mid-stream truncates the response: the status line is already sent, so
// there is nothing better to do than stop and log.
func (h *ProxyHandler) relayStream(c echo.Context, resp *model.ProxyResponse) error {
	copyHeaders(c.Response().Header(), resp.Header)
	c.Response().WriteHeader(resp.StatusCode)

	st := h.observer.Stream(resp.StatusCode)
	if h.metrics != nil {
		h.metrics.RelayedResponses.WithLabelValues(metrics.ModeStreamed).Inc()
	}

	buf := make([]byte, relayBufSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := c.Response().Write(chunk); werr != nil {
				h.logger.Error("streaming relay write",
					"err", werr,
					"path", c.Request().URL.Path,
				)
				return nil
			}
			c.Response().Flush()
			if h.metrics != nil {
				h.metrics.RelayedBytes.WithLabelValues(metrics.ModeStreamed).Add(float64(n))
			}
			st.Observe(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Error("streaming relay read",
					"err", err,
					"path", c.Request().URL.Path,
				)
				return nil
			}
			break
		}
	}

	st.Done()
	return nil
}

// copyHeaders adds every upstream header value to dst verbatim.
func copyHeaders(dst, src http.Header) {
	for key, vals := range src {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
