package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func logRequest(t *testing.T, h func(http.Handler) http.Handler, req *http.Request) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logged := RequestLogger{Logger: zerolog.New(&buf)}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	if h != nil {
		logged = h(logged)
	}
	logged.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestRequestLoggerUsesConnectionAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart/", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	req.Header.Set("X-Forwarded-For", "6.6.6.6")

	entry := logRequest(t, nil, req)
	require.Equal(t, "10.1.2.3", entry["client_ip"])
	require.EqualValues(t, http.StatusNoContent, entry["status"])
	require.Equal(t, "http_request", entry["message"])
}

func TestRequestLoggerAfterRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart/", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	req.Header.Set("X-Real-IP", "203.0.113.7")

	entry := logRequest(t, middleware.RealIP, req)
	require.Equal(t, "203.0.113.7", entry["client_ip"])
}
