package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveFetch(t *testing.T) {
	okBefore := testutil.ToFloat64(FetchTotal.WithLabelValues(OutcomeOK))
	errBefore := testutil.ToFloat64(FetchTotal.WithLabelValues(OutcomeError))

	ObserveFetch(time.Now(), nil)
	ObserveFetch(time.Now(), errors.New("boom"))
	ObserveFetch(time.Now(), errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(FetchTotal.WithLabelValues(OutcomeOK)))
	assert.Equal(t, errBefore+2, testutil.ToFloat64(FetchTotal.WithLabelValues(OutcomeError)))
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")))
}

func TestHandler_Exposes(t *testing.T) {
	ActiveSessions.Set(2)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ows_session_active 2")
}
