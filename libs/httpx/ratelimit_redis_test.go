package httpx

import (
	"net/http/httptest"
	"testing"
)

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	if got := clientKey(r); got != "192.0.2.10" {
		t.Errorf("clientKey = %q, want host without port", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 192.0.2.10")
	if got := clientKey(r); got != "203.0.113.7" {
		t.Errorf("clientKey = %q, want first forwarded address", got)
	}

	r.Header.Del("X-Forwarded-For")
	r.RemoteAddr = "192.0.2.11"
	if got := clientKey(r); got != "192.0.2.11" {
		t.Errorf("clientKey = %q, want bare remote addr", got)
	}
}
