package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:1234":  false,
		"not-an-ip":      false,
		"127.0.0.1":      true,
	}
	for addr, want := range cases {
		if got := IsLoopback(addr); got != want {
			t.Fatalf("IsLoopback(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestInternalAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		secret string
		remote string
		header string
		want   int
	}{
		{"secret match", "s3cret", "10.0.0.2:1", "s3cret", http.StatusNoContent},
		{"secret mismatch", "s3cret", "10.0.0.2:1", "nope", http.StatusForbidden},
		{"secret missing header", "s3cret", "127.0.0.1:1", "", http.StatusForbidden},
		{"no secret loopback", "", "127.0.0.1:1", "", http.StatusNoContent},
		{"no secret remote", "", "10.0.0.2:1", "anything", http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/sweeps/optimizer", nil)
			req.RemoteAddr = tc.remote
			if tc.header != "" {
				req.Header.Set(InternalSecretHeader, tc.header)
			}
			rr := httptest.NewRecorder()
			InternalAuth(tc.secret)(next).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d", rr.Code, tc.want)
			}
		})
	}
}
