package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHTTPSuccess(t *testing.T) {
	var gotMethod, gotQuery, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.Query().Get("service")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("  status:   ok  \n\n\n"))
	}))
	defer srv.Close()

	outcome := RunHTTP(context.Background(), "post", srv.URL, nil, `{"a":1}`,
		map[string]string{"service": "nginx"}, 5*time.Second)

	require.True(t, outcome.Success)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "nginx", gotQuery)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "status: ok", outcome.Output)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Empty(t, outcome.Error)
}

func TestRunHTTPNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such endpoint"))
	}))
	defer srv.Close()

	outcome := RunHTTP(context.Background(), "GET", srv.URL, nil, "", nil, 5*time.Second)

	require.False(t, outcome.Success)
	assert.Equal(t, "HTTP 404: Not Found", outcome.Error)
	assert.Equal(t, http.StatusNotFound, outcome.StatusCode)
	assert.Equal(t, "no such endpoint", outcome.Output)
}

func TestRunHTTPTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	outcome := RunHTTP(context.Background(), "GET", srv.URL, nil, "", nil, 50*time.Millisecond)

	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "request timeout")
	assert.Zero(t, outcome.StatusCode)
}

func TestRunHTTPConnectionRefused(t *testing.T) {
	// Bound then closed so nothing is listening
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	outcome := RunHTTP(context.Background(), "GET", url, nil, "", nil, time.Second)

	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "request error")
}

func TestRunHTTPCustomHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	outcome := RunHTTP(context.Background(), "GET", srv.URL,
		map[string]string{"Authorization": "Bearer token"}, "", nil, 5*time.Second)

	require.True(t, outcome.Success)
	assert.Equal(t, "Bearer token", gotAuth)
}
