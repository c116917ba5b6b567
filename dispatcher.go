package halogate

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/halogate/halogate/internal/circuitbreaker"
	"github.com/halogate/halogate/internal/metric"
)

// Dispatcher opens an upstream exchange for a resolved request. A streaming
// implementation (HTTPDispatcher) writes directly to req.Sink and closes it
// itself, returning (nil, nil) on success; the protocol machine's
// task-completion handler detects the closed sink and does nothing more. A
// non-streaming implementation instead returns a body, which the protocol
// machine frames as the default success response (§4.3).
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) ([]byte, error)
}

// HTTPDispatcher is the production Dispatcher: it resolves the upstream via
// a ServiceResolver, forwards the inbound request, and streams the
// upstream's status line, headers, and body back to the sink verbatim.
type HTTPDispatcher struct {
	resolver ServiceResolver
	client   *http.Client
	breakers *circuitbreaker.Registry
	metrics  metric.Metrics
	log      *zap.Logger
}

type HTTPDispatcherOption func(*HTTPDispatcher)

func WithDispatcherMetrics(m metric.Metrics) HTTPDispatcherOption {
	return func(d *HTTPDispatcher) { d.metrics = m }
}

// WithCircuitBreaker enables per-upstream failure gating: a breaker opens
// after threshold consecutive failures against one resolved upstream and
// resets after resetTimeout; a breaker untouched for idleTTL is evicted from
// the registry (idleTTL <= 0 disables eviction).
func WithCircuitBreaker(threshold int, resetTimeout, idleTTL time.Duration) HTTPDispatcherOption {
	return func(d *HTTPDispatcher) {
		d.breakers = circuitbreaker.NewRegistry(threshold, resetTimeout, idleTTL, d.log)
	}
}

// NewHTTPDispatcher builds a dispatcher holding a long-lived, connection-
// pooling upstream client, released by Close at process shutdown (§4.2
// "Resource discipline").
func NewHTTPDispatcher(resolver ServiceResolver, log *zap.Logger, opts ...HTTPDispatcherOption) *HTTPDispatcher {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   false, // the gateway's wire protocol to upstreams is plain HTTP/1.1 (spec.md §6)
	}

	d := &HTTPDispatcher{
		resolver: resolver,
		client:   &http.Client{Transport: transport},
		metrics:  metric.NewNop(),
		log:      log,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Close releases the pooled upstream connections and stops the circuit
// breaker registry's idle-eviction sweep, if one was configured.
func (d *HTTPDispatcher) Close() {
	d.client.CloseIdleConnections()

	if d.breakers != nil {
		d.breakers.Close()
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *Request) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "gateway.dispatch.upstream",
		trace.WithAttributes(attribute.String("request.id", req.ID), attribute.String("request.url", req.URL)))
	defer span.End()

	start := time.Now()

	upstreamURL, err := d.resolver.Resolve(req.URL)
	if err != nil {
		d.metrics.IncFailedRequestsTotal(metric.FailReasonNoMatchedService)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unresolved service")

		return nil, err
	}

	span.SetAttributes(attribute.String("upstream.url", upstreamURL))

	// The duration histogram is labelled by service name and breakers are
	// keyed by base URL, not by the full upstream URL with its path and query.
	service, baseURL := "", upstreamURL
	if m := urlPattern.FindStringSubmatch(req.URL); m != nil {
		service = m[urlPattern.SubexpIndex("service")]
		baseURL = strings.TrimSuffix(upstreamURL, strings.TrimPrefix(req.URL, "/"+service))
	}

	defer d.metrics.UpdateRequestDuration(service, start)

	var breaker *circuitbreaker.CircuitBreaker
	if d.breakers != nil {
		breaker = d.breakers.For(baseURL)

		if !breaker.Allow() {
			d.metrics.IncFailedRequestsTotal(metric.FailReasonUpstreamError)
			span.SetStatus(codes.Error, "circuit breaker open")

			return nil, NewBadGateway("Unable to reach destination, service unreachable.")
		}
	}

	upstreamReq, err := d.buildUpstreamRequest(ctx, req, upstreamURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cannot build upstream request")

		return nil, NewInternal(fmt.Sprintf("cannot build upstream request: %v", err))
	}

	resp, err := d.client.Do(upstreamReq)
	if err != nil {
		if breaker != nil {
			breaker.OnFailure()
		}

		d.metrics.IncFailedRequestsTotal(metric.FailReasonUpstreamError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream unreachable")

		d.log.Error("upstream unreachable",
			zap.String("request_id", req.ID),
			zap.String("url", upstreamURL),
			zap.Error(err),
		)

		return nil, NewBadGatewayCause("Unable to reach destination, service unreachable.", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("upstream.status_code", resp.StatusCode))

	if breaker != nil {
		breaker.OnSuccess()
	}

	if err := d.streamResponse(req.Sink, resp); err != nil {
		d.log.Warn("failed streaming upstream response to client",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}

	return nil, nil
}

// buildUpstreamRequest clones method, headers (values verbatim; names are
// canonicalized by http.Header.Add), and body onto the resolved upstream URL.
func (d *HTTPDispatcher) buildUpstreamRequest(ctx context.Context, req *Request, upstreamURL string) (*http.Request, error) {
	body := req.Body
	if !req.HasContentLength() {
		// No Content-Length: treat the body as empty, even if bytes arrive
		// (§4.2 "Body forwarding policy" — a deliberate simplification).
		body = http.NoBody
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, upstreamURL, body)
	if err != nil {
		return nil, err
	}

	for _, h := range req.Headers {
		upstreamReq.Header.Add(h.Name, h.Value)
	}

	return upstreamReq, nil
}

// streamResponse writes the §4.2 response framing: status line, headers,
// blank line, then body chunks as they arrive — no buffering of the full
// body in memory.
func (d *HTTPDispatcher) streamResponse(sink Sink, resp *http.Response) error {
	defer sink.Close()

	d.metrics.IncResponsesTotal(resp.StatusCode)

	reason := resp.Status
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\n", resp.StatusCode, statusReason(reason, resp.StatusCode))
	if _, err := sink.Write([]byte(head)); err != nil {
		return err
	}

	for name, values := range resp.Header {
		for _, v := range values {
			if _, err := fmt.Fprintf(sink, "%s: %s\r\n", name, v); err != nil {
				return err
			}
		}
	}

	if _, err := sink.Write([]byte("\r\n")); err != nil {
		return err
	}

	_, err := io.Copy(sink, resp.Body)

	return err
}

func statusReason(status string, code int) string {
	// resp.Status is "200 OK"; strip the leading code and space if present.
	prefix := fmt.Sprintf("%d ", code)
	if len(status) > len(prefix) && status[:len(prefix)] == prefix {
		return status[len(prefix):]
	}

	if status == "" {
		return http.StatusText(code)
	}

	return status
}
