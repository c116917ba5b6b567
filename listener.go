package halogate

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/halogate/halogate/internal/metric"
)

// Listener is the thin external-contract glue of §1/§6: it owns nothing of
// the request-lifecycle core, it only accepts TCP connections and hands
// each one to a fresh Connection. Process supervision, SO_REUSEPORT
// fan-out, and signal handling are the caller's concern (cmd/halogate).
type Listener struct {
	addr           string
	dispatcher     Dispatcher
	requestTimeout time.Duration
	log            *zap.Logger
	metrics        metric.Metrics
}

func NewListener(addr string, dispatcher Dispatcher, requestTimeout time.Duration, log *zap.Logger, metrics metric.Metrics) *Listener {
	if metrics == nil {
		metrics = metric.NewNop()
	}

	return &Listener{
		addr:           addr,
		dispatcher:     dispatcher,
		requestTimeout: requestTimeout,
		log:            log,
		metrics:        metrics,
	}
}

// Serve accepts connections until the listener is closed (typically by the
// caller closing the net.Listener returned alongside an error, or via
// context cancellation race in the caller's shutdown path). One goroutine
// per connection maps the cooperative-per-connection model of §6 onto a
// preemptively-scheduled goroutine; parallelism across cores is the
// caller's job (N worker processes sharing a listening socket), not this
// type's.
func (l *Listener) Serve(ln net.Listener) error {
	l.log.Info("listener accepting connections", zap.String("addr", l.addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		go NewConnection(conn, l.dispatcher, l.requestTimeout, l.log, l.metrics).Serve()
	}
}
