package halogate

import (
	"fmt"
	"net/http"
)

// writeErrorResponse writes the §4.3 error response framing: the client's
// echoed HTTP version, the gateway error's declared status (or 500 for any
// other failure), and the error's message as a text/plain body. Parser
// errors and timeouts never reach this path — they abort the transport
// directly without writing anything.
func writeErrorResponse(sink Sink, version string, err error) error {
	status, message := AsGatewayError(err)

	return writeFramed(sink, version, status, []byte(message))
}

// writeDefaultResponse writes the fallback success response for dispatchers
// that return a body instead of streaming directly to the sink (§4.3,
// "default success response").
func writeDefaultResponse(sink Sink, version string, body []byte) error {
	return writeFramed(sink, version, http.StatusOK, body)
}

func writeFramed(sink Sink, version string, status int, body []byte) error {
	reason := http.StatusText(status)
	if reason == "" {
		reason = "Unknown"
	}

	head := fmt.Sprintf(
		"HTTP/%s %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n",
		version, status, reason, len(body),
	)

	if _, err := sink.Write([]byte(head)); err != nil {
		return err
	}

	if len(body) > 0 {
		if _, err := sink.Write(body); err != nil {
			return err
		}
	}

	return nil
}
