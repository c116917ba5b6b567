package halogate

import (
	"errors"
	"testing"
)

func TestInMemoryResolver_Resolve(t *testing.T) {
	r := NewInMemoryResolver(map[string]string{
		"foo": "http://up-foo:9000",
		"bar": "http://up-bar:9100",
	})

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "bare service", url: "/foo", want: "http://up-foo:9000"},
		{name: "service with path", url: "/foo/health", want: "http://up-foo:9000/health"},
		{name: "service with path and query", url: "/foo/health?deep=1", want: "http://up-foo:9000/health?deep=1"},
		{name: "service with query only", url: "/bar?x=1", want: "http://up-bar:9100?x=1"},
		{name: "no leading slash", url: "foo", wantErr: true},
		{name: "unknown service", url: "/baz", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.url)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q): expected error, got %q", tt.url, got)
				}

				return
			}

			if err != nil {
				t.Fatalf("Resolve(%q): unexpected error: %v", tt.url, err)
			}

			if got != tt.want {
				t.Errorf("Resolve(%q) = %q; want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestInMemoryResolver_UnknownService_IsBadGateway(t *testing.T) {
	r := NewInMemoryResolver(map[string]string{"foo": "http://up:9000"})

	_, err := r.Resolve("/baz")

	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *GatewayError, got %T", err)
	}

	if gerr.Kind != KindBadGateway {
		t.Errorf("Kind = %v; want KindBadGateway", gerr.Kind)
	}
}

func TestInMemoryResolver_MalformedURL_IsNotFound(t *testing.T) {
	r := NewInMemoryResolver(map[string]string{"foo": "http://up:9000"})

	_, err := r.Resolve("not-a-path")

	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *GatewayError, got %T", err)
	}

	if gerr.Kind != KindNotFound {
		t.Errorf("Kind = %v; want KindNotFound", gerr.Kind)
	}
}

func TestInMemoryResolver_CopiesInputMap(t *testing.T) {
	known := map[string]string{"foo": "http://up:9000"}
	r := NewInMemoryResolver(known)

	known["foo"] = "http://mutated:1"

	got, err := r.Resolve("/foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != "http://up:9000" {
		t.Errorf("resolver observed caller's post-construction mutation: got %q", got)
	}
}
