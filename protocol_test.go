package halogate

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type funcDispatcher struct {
	fn func(ctx context.Context, req *Request) ([]byte, error)
}

func (d *funcDispatcher) Dispatch(ctx context.Context, req *Request) ([]byte, error) {
	return d.fn(ctx, req)
}

func readAll(t *testing.T, conn net.Conn, deadline time.Duration) []byte {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(deadline))

	var buf bytes.Buffer

	tmp := make([]byte, 256)

	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
		}

		if err != nil {
			break
		}
	}

	return buf.Bytes()
}

func TestConnection_MalformedRequestLine_ClosesSilently(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	d := &funcDispatcher{fn: func(context.Context, *Request) ([]byte, error) {
		t.Fatal("dispatcher must not be invoked for a malformed request")

		return nil, nil
	}}

	conn := NewConnection(server, d, 2*time.Second, zap.NewNop(), nil)

	done := make(chan struct{})

	go func() {
		conn.Serve()
		close(done)
	}()

	_, _ = client.Write([]byte("GARBAGE\r\n\r\n"))

	out := readAll(t, client, time.Second)
	if len(out) != 0 {
		t.Errorf("expected no bytes written on a parser error, got %q", out)
	}

	<-done
}

func TestConnection_Timeout_ClosesWithoutResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	blocked := make(chan struct{})

	d := &funcDispatcher{fn: func(ctx context.Context, req *Request) ([]byte, error) {
		<-ctx.Done()
		close(blocked)

		return nil, ctx.Err()
	}}

	conn := NewConnection(server, d, 30*time.Millisecond, zap.NewNop(), nil)

	done := make(chan struct{})

	go func() {
		conn.Serve()
		close(done)
	}()

	_, _ = client.Write([]byte("GET /foo HTTP/1.1\r\nHost: x\r\n\r\n"))

	out := readAll(t, client, time.Second)
	if len(out) != 0 {
		t.Errorf("expected no response written after a timeout, got %q", out)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after the connection timeout")
	}

	<-blocked
}

func TestConnection_DispatchSuccess_WritesDefaultResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	d := &funcDispatcher{fn: func(context.Context, *Request) ([]byte, error) {
		return []byte("hi"), nil
	}}

	conn := NewConnection(server, d, 2*time.Second, zap.NewNop(), nil)

	done := make(chan struct{})

	go func() {
		conn.Serve()
		close(done)
	}()

	_, _ = client.Write([]byte("GET /foo HTTP/1.1\r\nHost: x\r\n\r\n"))

	out := readAll(t, client, time.Second)

	if !strings.HasPrefix(string(out), "HTTP/1.1 200 OK\r\n") {
		t.Errorf("response head = %q", out)
	}

	if !strings.HasSuffix(string(out), "\r\n\r\nhi") {
		t.Errorf("response body = %q", out)
	}

	<-done
}

func TestConnection_DispatchError_WritesFramedErrorResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	d := &funcDispatcher{fn: func(context.Context, *Request) ([]byte, error) {
		return nil, NewBadGateway("Unable to satisfy routes for service: foo")
	}}

	conn := NewConnection(server, d, 2*time.Second, zap.NewNop(), nil)

	done := make(chan struct{})

	go func() {
		conn.Serve()
		close(done)
	}()

	_, _ = client.Write([]byte("GET /foo HTTP/1.1\r\nHost: x\r\n\r\n"))

	out := readAll(t, client, time.Second)

	if !strings.HasPrefix(string(out), "HTTP/1.1 502 Bad Gateway\r\n") {
		t.Errorf("response head = %q", out)
	}

	if !strings.HasSuffix(string(out), "foo") {
		t.Errorf("response body = %q", out)
	}

	<-done
}

func TestConnection_StreamingDispatcher_SettleDoesNothingOnClosedSink(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	d := &funcDispatcher{fn: func(_ context.Context, req *Request) ([]byte, error) {
		_, _ = req.Sink.Write([]byte("streamed"))
		_ = req.Sink.Close()

		return nil, nil
	}}

	conn := NewConnection(server, d, 2*time.Second, zap.NewNop(), nil)

	done := make(chan struct{})

	go func() {
		conn.Serve()
		close(done)
	}()

	_, _ = client.Write([]byte("GET /foo HTTP/1.1\r\nHost: x\r\n\r\n"))

	out := readAll(t, client, time.Second)

	if string(out) != "streamed" {
		t.Errorf("got %q; want exactly the streamed bytes with no extra framing", out)
	}

	<-done
}

func TestConnection_ContentLength_BodyReadable(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	var gotBody string

	d := &funcDispatcher{fn: func(_ context.Context, req *Request) ([]byte, error) {
		buf := make([]byte, 5)
		n, _ := req.Body.Read(buf)
		gotBody = string(buf[:n])

		return []byte("ok"), nil
	}}

	conn := NewConnection(server, d, 2*time.Second, zap.NewNop(), nil)

	done := make(chan struct{})

	go func() {
		conn.Serve()
		close(done)
	}()

	_, _ = client.Write([]byte("POST /foo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"))

	readAll(t, client, time.Second)
	<-done

	if gotBody != "hello" {
		t.Errorf("body = %q; want %q", gotBody, "hello")
	}
}
