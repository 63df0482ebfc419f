package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jsonrel/internal/jsonvalue"
)

func TestWithJSONFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://api.example.com/f1/drivers", want: "https://api.example.com/f1/drivers?format=json"},
		{in: "https://api.example.com/x?limit=5", want: "https://api.example.com/x?format=json&limit=5"},
		{in: "https://api.example.com/x?format=xml", want: "https://api.example.com/x?format=xml"},
		{in: "/relative/path", wantErr: true},
		{in: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		got, err := WithJSONFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

// TestFetch_Classification covers the error sentinels.
//
// Edge cases:
//   - HTML error pages report their <title>.
//   - Bodies over MaxBytes are rejected even with a JSON content type.
func TestFetch_Classification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "json" {
			http.Error(w, "missing format", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"b":1,"a":[true]}`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>  Rate
			limited </title></head><body>slow down</body></html>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"a":`))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`"` + strings.Repeat("x", 64) + `"`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(Config{}, "test", nil)
	ctx := context.Background()

	doc, err := c.Fetch(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, doc.Keys())

	_, err = c.Fetch(ctx, srv.URL+"/missing")
	assert.True(t, errors.Is(err, ErrFetch), "err=%v", err)
	assert.Contains(t, err.Error(), "404")

	_, err = c.Fetch(ctx, srv.URL+"/html")
	assert.True(t, errors.Is(err, ErrUnexpectedContentType), "err=%v", err)
	assert.Contains(t, err.Error(), "page title: Rate limited")

	_, err = c.Fetch(ctx, srv.URL+"/broken")
	assert.True(t, errors.Is(err, ErrMalformedResponse), "err=%v", err)

	_, err = New(Config{MaxBytes: 32}, "test", nil).Fetch(ctx, srv.URL+"/big")
	assert.True(t, errors.Is(err, ErrMalformedResponse), "err=%v", err)

	_, err = c.Fetch(ctx, "http://127.0.0.1:1/unreachable")
	assert.True(t, errors.Is(err, ErrFetch), "err=%v", err)
}

func TestFetchOrNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)

	doc, ok := New(Config{}, "test", nil).FetchOrNil(context.Background(), srv.URL)
	assert.False(t, ok)
	assert.Equal(t, jsonvalue.Null, doc.Kind())
}

func TestFetch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, "test", nil).Fetch(ctx, srv.URL)
	assert.True(t, errors.Is(err, ErrFetch), "err=%v", err)
}
