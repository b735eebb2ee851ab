package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func okHandle(called *bool) httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}
}

func TestIsAuthorized(t *testing.T) {
	var called bool
	handle := IsAuthorized("secret", okHandle(&called))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handle(w, r, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, called)

	w = httptest.NewRecorder()
	r.Header.Set("Authorization", "Bearer wrong")
	handle(w, r, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, called)

	w = httptest.NewRecorder()
	r.Header.Set("Authorization", "Bearer secret")
	handle(w, r, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
}

func TestLogRequestRecoversFromPanic(t *testing.T) {
	withLogging := LogRequest(kitlog.NewNopLogger())
	handle := withLogging(func(http.ResponseWriter, *http.Request, httprouter.Params) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handle(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

type fullQueue bool

func (f fullQueue) Full() bool { return bool(f) }

func TestHasCapacity(t *testing.T) {
	var called bool
	handle := HasCapacity(fullQueue(true), okHandle(&called))
	w := httptest.NewRecorder()
	handle(w, httptest.NewRequest(http.MethodPost, "/", nil), nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.False(t, called)

	handle = HasCapacity(fullQueue(false), okHandle(&called))
	w = httptest.NewRecorder()
	handle(w, httptest.NewRequest(http.MethodPost, "/", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
}

func TestAllowCORS(t *testing.T) {
	withCORS := AllowCORS([]string{"https://app.example.com"})
	var called bool
	handle := withCORS(okHandle(&called))

	// allowed origin
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	handle(w, r, nil)
	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.True(t, called)

	// unknown origin gets no CORS headers
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	handle(w, r, nil)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	// preflight short-circuits
	called = false
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	handle(w, r, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.False(t, called)
}
