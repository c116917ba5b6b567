package halogate

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/halogate/halogate/internal/metric"
)

// tracer is the gateway's package-wide span source. It is the otel global
// Tracer: calling otel.Tracer before a real TracerProvider is registered
// (e.g. tracing disabled in Config) yields a no-op tracer, and every span
// started against it begins exporting automatically the moment
// internal/tracing.New registers a provider at process start — no
// constructor plumbing is needed through Connection/HTTPDispatcher.
var tracer = otel.Tracer("github.com/halogate/halogate")

// Connection is the per-connection protocol machine (§4.3): it drives an
// incremental HTTP/1.x parser over the raw socket, assembles a Request on
// headers-complete, spawns a dispatch task, and on task settlement writes
// whichever response the "transport is closing?" check says is still owed.
// Scheduling is cooperative per connection — Serve blocks the calling
// goroutine for the lifetime of exactly one request, mirroring the
// single-threaded event-loop model of §6 ("single goroutine per connection"
// is this implementation's mapping of that model).
type Connection struct {
	conn           net.Conn
	reader         *bufio.Reader
	dispatcher     Dispatcher
	requestTimeout time.Duration
	log            *zap.Logger
	metrics        metric.Metrics
	id             string
}

// NewConnection wraps an accepted net.Conn. requestTimeout is the single
// deadline scheduled at connect and never refreshed (§4.3 "per-request
// timeout"); keep-alive is not a goal, so one Connection ever parses exactly
// one request.
func NewConnection(conn net.Conn, dispatcher Dispatcher, requestTimeout time.Duration, log *zap.Logger, metrics metric.Metrics) *Connection {
	if metrics == nil {
		metrics = metric.NewNop()
	}

	return &Connection{
		conn:           conn,
		reader:         bufio.NewReader(conn),
		dispatcher:     dispatcher,
		requestTimeout: requestTimeout,
		log:            log,
		metrics:        metrics,
		id:             newConnectionID(),
	}
}

// Serve runs the Idle → ParsingHeaders → Dispatching → Responding → Closed
// lifecycle to completion. It always closes the underlying connection
// before returning, satisfying "the timeout handle is always cancelled
// before connection teardown" (the deadline's governing context is
// cancelled via the deferred cancel, and the connection itself is closed
// either here or by the timeout watchdog).
func (c *Connection) Serve() {
	defer c.conn.Close()

	spanCtx, span := tracer.Start(context.Background(), "gateway.connection",
		trace.WithAttributes(attribute.String("connection.id", c.id)))
	defer span.End()

	ctx, cancel := context.WithTimeout(spanCtx, c.requestTimeout)
	defer cancel()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)

	go func() {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				// Force-close unblocks whatever blocking read or write is
				// currently in flight (§4.3 "timeout fires → connection
				// forcibly closed; no response is written").
				c.conn.Close()
			}
		case <-watchdogDone:
		}
	}()

	req, err := c.parseRequest()
	if err != nil {
		if err != io.EOF {
			span.RecordError(err)
			span.SetStatus(codes.Error, "malformed request")

			c.log.Debug("malformed request, closing connection",
				zap.String("connection_id", c.id),
				zap.Error(err),
			)
		}

		return
	}

	span.SetAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.method", req.Method),
		attribute.String("request.url", req.URL),
	)

	c.dispatch(ctx, req, span)
}

// parseRequest reads exactly one request line and header block off the
// connection's buffered reader. Any parse failure is returned verbatim and
// is always treated as a silent close by the caller — §4.4 reserves
// BadRequest for future client-side validation, not parser failures.
func (c *Connection) parseRequest() (*Request, error) {
	tp := textproto.NewReader(c.reader)

	requestLine, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line: %q", requestLine)
	}

	method, url, versionToken := parts[0], parts[1], parts[2]

	version, ok := parseHTTPVersion(versionToken)
	if !ok {
		return nil, fmt.Errorf("unsupported http version: %q", versionToken)
	}

	headers, err := readHeaders(tp)
	if err != nil {
		return nil, err
	}

	body, err := c.openBody(headers)
	if err != nil {
		return nil, err
	}

	reqID, err := newRequestID()
	if err != nil {
		return nil, err
	}

	return &Request{
		Method:     method,
		Version:    version,
		Headers:    headers,
		URL:        url,
		Body:       body,
		Sink:       newConnSink(c.conn),
		RemoteAddr: c.conn.RemoteAddr().String(),
		ID:         reqID,
	}, nil
}

// readHeaders reads header lines verbatim up to the blank terminator line,
// preserving wire order and case (§3 "preserving wire order and case") —
// textproto.Reader.ReadMIMEHeader canonicalizes keys and folds repeats into
// a map, which would lose both, so headers are split by hand instead.
func readHeaders(tp *textproto.Reader) ([]Header, error) {
	var headers []Header

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return nil, err
		}

		if line == "" {
			return headers, nil
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("malformed header line: %q", line)
		}

		headers = append(headers, Header{
			Name:  line[:idx],
			Value: strings.TrimSpace(line[idx+1:]),
		})
	}
}

// openBody returns a reader limited to the declared Content-Length, or an
// empty body when none was sent — the body is a view over the connection's
// shared buffered reader, read at most once, exactly as §3 requires.
func (c *Connection) openBody(headers []Header) (io.Reader, error) {
	for _, h := range headers {
		if !strings.EqualFold(h.Name, "Content-Length") {
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(h.Value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("malformed content-length: %q", h.Value)
		}

		return io.LimitReader(c.reader, int64(n)), nil
	}

	return http.NoBody, nil
}

// dispatch spawns the dispatch task and waits for either its settlement or
// the connection's context expiring. At most one dispatch task is ever
// in flight per connection (§3 invariant). span is the connection's span
// (started in Serve); dispatch annotates it with the task's outcome rather
// than opening a child span of its own — the dispatcher opens its own child
// span around the upstream exchange itself.
func (c *Connection) dispatch(ctx context.Context, req *Request, span trace.Span) {
	c.metrics.IncRequestsTotal()
	c.metrics.IncRequestsInFlight()
	defer c.metrics.DecRequestsInFlight()

	type result struct {
		body []byte
		err  error
	}

	done := make(chan result, 1)

	go func() {
		body, err := c.dispatcher.Dispatch(ctx, req)
		done <- result{body: body, err: err}
	}()

	select {
	case res := <-done:
		if ctx.Err() == context.DeadlineExceeded {
			// The deadline fired as the task settled: the watchdog owns the
			// transport and no response is written.
			span.SetStatus(codes.Error, "request timeout")

			return
		}

		c.settle(req, res.body, res.err, span)
	case <-ctx.Done():
		// The watchdog goroutine force-closes the transport; the dispatch
		// task observes that on its next read or write and terminates on
		// its own. Its result still lands in the buffered channel above,
		// so nothing is dropped, it is simply never consumed.
		span.SetStatus(codes.Error, "request timeout")
	}
}

// settle implements the task-completion handler of §4.3: if the transport
// is already closing, the streaming dispatcher owns the response and there
// is nothing left to do; otherwise this is the sole remaining writer, and
// it writes exactly one framed response before closing the sink.
func (c *Connection) settle(req *Request, body []byte, err error, span trace.Span) {
	if req.Sink.Closed() {
		return
	}

	defer req.Sink.Close()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		status, _ := AsGatewayError(err)
		c.metrics.IncResponsesTotal(status)

		if writeErr := writeErrorResponse(req.Sink, req.Version, err); writeErr != nil {
			c.log.Debug("failed writing error response",
				zap.String("connection_id", c.id),
				zap.String("request_id", req.ID),
				zap.Error(writeErr),
			)
		}

		return
	}

	c.metrics.IncResponsesTotal(http.StatusOK)

	if writeErr := writeDefaultResponse(req.Sink, req.Version, body); writeErr != nil {
		c.log.Debug("failed writing default response",
			zap.String("connection_id", c.id),
			zap.String("request_id", req.ID),
			zap.Error(writeErr),
		)
	}
}

func parseHTTPVersion(token string) (string, bool) {
	const prefix = "HTTP/"

	if !strings.HasPrefix(token, prefix) {
		return "", false
	}

	version := strings.TrimPrefix(token, prefix)
	if version != "1.0" && version != "1.1" {
		return "", false
	}

	return version, true
}

func newRequestID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func newConnectionID() string {
	return uuid.NewString()
}
