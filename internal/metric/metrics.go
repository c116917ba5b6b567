// Package metric defines the observability surface shared by the
// connection protocol machine and the dispatcher. It is ambient
// instrumentation, not a gateway feature: the listener glue decides whether
// and where to expose it (see internal/admin).
package metric

import "time"

type FailReason string

const (
	FailReasonNoMatchedService FailReason = "no_matched_service"
	FailReasonUpstreamError    FailReason = "upstream_error"
	FailReasonTimeout          FailReason = "timeout"
	FailReasonInternal         FailReason = "internal"
)

type Metrics interface {
	IncRequestsTotal()
	IncRequestsInFlight()
	DecRequestsInFlight()
	UpdateRequestDuration(service string, start time.Time)
	IncResponsesTotal(status int)
	IncFailedRequestsTotal(reason FailReason)
}
