package metric

import "time"

type nopMetrics struct{}

func NewNop() Metrics {
	return &nopMetrics{}
}

func (m *nopMetrics) IncRequestsTotal()                          {}
func (m *nopMetrics) IncRequestsInFlight()                       {}
func (m *nopMetrics) DecRequestsInFlight()                       {}
func (m *nopMetrics) UpdateRequestDuration(_ string, _ time.Time) {}
func (m *nopMetrics) IncResponsesTotal(_ int)                     {}
func (m *nopMetrics) IncFailedRequestsTotal(_ FailReason)         {}
