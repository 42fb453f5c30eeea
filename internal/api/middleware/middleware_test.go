package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRequest(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := ValidateRequest(ok)

	tests := []struct {
		name   string
		method string
		path   string
		ctype  string
		body   string
		want   int
	}{
		{"json post", http.MethodPost, "/announce", "application/json", `{}`, http.StatusNoContent},
		{"json with charset", http.MethodPost, "/announce", "application/json; charset=utf-8", `{}`, http.StatusNoContent},
		{"form post", http.MethodPost, "/announce", "application/x-www-form-urlencoded", "a=b", http.StatusUnsupportedMediaType},
		{"empty post", http.MethodPost, "/announce", "", "", http.StatusNoContent},
		{"traversal", http.MethodGet, "/../etc/passwd", "", "", http.StatusBadRequest},
		{"opaque query", http.MethodGet, "/get_peers?chat_id=a..b", "", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			r.URL.Path = strings.SplitN(tt.path, "?", 2)[0]
			if i := strings.Index(tt.path, "?"); i >= 0 {
				r.URL.RawQuery = tt.path[i+1:]
			}
			if tt.ctype != "" {
				r.Header.Set("Content-Type", tt.ctype)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/announce", strings.NewReader(`{"a":"very long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"error":"request body too large"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/announce", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
