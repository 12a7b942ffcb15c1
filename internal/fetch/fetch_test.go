package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getCapabilities", r.URL.Query().Get("request"))
		w.Write([]byte("<WMT_MS_Capabilities/>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	body, err := f.Fetch(context.Background(), srv.URL+"/wms?request=getCapabilities")
	require.NoError(t, err)
	assert.Equal(t, "<WMT_MS_Capabilities/>", string(body))
}

func TestHTTPFetcher_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<WMT_MS_Capabilities>" + r.URL.Query().Get("pad") + "</WMT_MS_Capabilities>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	f.maxBody = 64

	body, err := f.Fetch(context.Background(), srv.URL+"?pad=short")
	require.NoError(t, err)
	assert.Len(t, body, 48)

	_, err = f.Fetch(context.Background(), srv.URL+"?pad=this-padding-pushes-the-document-past-the-limit")
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestHTTPFetcher_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(0).Fetch(context.Background(), srv.URL)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Error(), "503")
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(50*time.Millisecond).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFunc(t *testing.T) {
	var f Fetcher = Func(func(ctx context.Context, url string) ([]byte, error) {
		return []byte(url), nil
	})
	body, err := f.Fetch(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", string(body))
}
