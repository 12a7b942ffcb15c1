package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-ows/internal/agent"
	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/db"
	"github.com/joeblew999/plat-ows/internal/fetch"
	"github.com/joeblew999/plat-ows/internal/humastar"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/request"
	"github.com/joeblew999/plat-ows/internal/service"
	"github.com/joeblew999/plat-ows/internal/store"
)

func fixtureFetcher(t *testing.T) fetch.Fetcher {
	routes := [][2]string{
		{"maps.test/geoserver/wms?request=getCapabilities", "wms_111.xml"},
		{"maps.test/geoserver/wfs?request=getCapabilities", "wfs_200.xml"},
		{"request=GetCapabilities", "sos_caps.xml"},
		{"request=GetObservation", "observation.xml"},
		{"DELHI", "sensor_delhi.xml"},
		{"KOLKATA", "sensor_kolkata.xml"},
	}
	return fetch.Func(func(_ context.Context, url string) ([]byte, error) {
		for _, r := range routes {
			if strings.Contains(url, r[0]) {
				return os.ReadFile(filepath.Join("..", "ows", "testdata", r[1]))
			}
		}
		return nil, &fetch.StatusError{URL: url, StatusCode: http.StatusNotFound}
	})
}

type testEnv struct {
	api   humatest.TestAPI
	svc   *Services
	store *store.Store
}

func newTestEnv(t *testing.T, completer agent.Completer) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	st, err := store.New(context.Background(), conn)
	require.NoError(t, err)

	f := fixtureFetcher(t)
	endpoints := service.NewEndpointService(t.TempDir(), map[ows.ServiceKind]string{
		ows.KindWMS: "http://maps.test/geoserver/wms",
		ows.KindWFS: "http://maps.test/geoserver/wfs",
		ows.KindSOS: "http://sos.test/istsos/demo",
	})
	sessions := service.NewSessionManager(&service.Deps{
		Fetcher:   f,
		CRS:       crs.New(f),
		Builder:   request.NewBuilder(request.Config{UTCOffset: request.DefaultUTCOffset}),
		Endpoints: endpoints,
		Log:       st,
	})
	t.Cleanup(sessions.Close)

	svc := &Services{
		Endpoints: endpoints,
		Sessions:  sessions,
		Store:     st,
		Completer: completer,
		Agent: agent.Config{
			Poller:      agent.Poller{Attempts: 200, Interval: 5 * time.Millisecond},
			SettleDelay: time.Millisecond,
		},
	}

	config := huma.DefaultConfig("plat-ows test", "1.0.0")
	config.Transformers = append(config.Transformers, humastar.LinkTransformer(Links))
	_, api := humatest.New(t, config)
	huma.AutoRegister(api, NewAPIHandler(svc))
	NewDBHandler(conn).RegisterRoutes(api)
	return &testEnv{api: api, svc: svc, store: st}
}

func (e *testEnv) session(t *testing.T) string {
	t.Helper()
	resp := e.api.Post("/api/v1/sessions", struct{}{})
	require.Equal(t, http.StatusOK, resp.Code)
	var body SessionBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.ID
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.api.Get("/health")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"ok"`)
	assert.Contains(t, strings.Join(resp.Header().Values("Link"), ","), `rel="sessions"`)
}

func TestEndpointsCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.api.Get("/api/v1/endpoints?kind=sos")
	require.Equal(t, http.StatusOK, resp.Code)
	eps := decode[[]service.Endpoint](t, resp.Body.Bytes())
	require.Len(t, eps, 1)
	assert.Equal(t, "http://sos.test/istsos/demo", eps[0].URL)

	resp = env.api.Post("/api/v1/endpoints", map[string]any{
		"name": "IIRS SOS", "kind": "sos", "url": "http://sos.test/istsos/iirs",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	created := decode[service.Endpoint](t, resp.Body.Bytes())
	assert.Equal(t, "iirs_sos", created.ID)

	resp = env.api.Post("/api/v1/endpoints", map[string]any{
		"name": "IIRS SOS", "kind": "sos", "url": "http://sos.test/istsos/iirs",
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = env.api.Put("/api/v1/endpoints/iirs_sos", map[string]any{
		"name": "IIRS SOS", "kind": "sos", "url": "http://sos.test/istsos/other",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "istsos/other")

	assert.Equal(t, http.StatusOK, env.api.Delete("/api/v1/endpoints/iirs_sos").Code)
	assert.Equal(t, http.StatusNotFound, env.api.Get("/api/v1/endpoints/iirs_sos").Code)
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.session(t)

	resp := env.api.Get("/api/v1/sessions")
	assert.Len(t, decode[[]SessionBody](t, resp.Body.Bytes()), 1)

	resp = env.api.Get("/api/v1/sessions/" + id)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/sessions/`+id+`>; rel="self"`)

	assert.Equal(t, http.StatusOK, env.api.Delete("/api/v1/sessions/"+id).Code)
	assert.Equal(t, http.StatusNotFound, env.api.Get("/api/v1/sessions/"+id).Code)
	assert.Equal(t, http.StatusNotFound, env.api.Get("/api/v1/sessions/"+id+"/tabs/wms").Code)
}

func TestTab_ActionsFollowState(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.session(t)

	resp := env.api.Get("/api/v1/sessions/" + id + "/tabs/wms")
	require.Equal(t, http.StatusOK, resp.Code)
	links := strings.Join(resp.Header().Values("Link"), "\n")
	assert.Contains(t, links, `rel="capabilities"; method="POST"`)
	assert.NotContains(t, links, `rel="submit"`)

	resp = env.api.Post("/api/v1/sessions/"+id+"/tabs/wms/capabilities", struct{}{})
	require.Equal(t, http.StatusOK, resp.Code)
	cat := decode[CatalogBody](t, resp.Body.Bytes())
	assert.Equal(t, 3, cat.Entries)
	assert.NotEmpty(t, cat.Formats)

	resp = env.api.Get("/api/v1/sessions/" + id + "/tabs/wms")
	links = strings.Join(resp.Header().Values("Link"), "\n")
	assert.Contains(t, links, `</api/v1/sessions/`+id+`/tabs/wms/submit>; rel="submit"`)
	assert.NotContains(t, links, `rel="observations"`)

	tab := decode[TabBody](t, resp.Body.Bytes())
	assert.True(t, tab.Loaded)
	assert.Equal(t, "empty", tab.BBoxState)
}

func TestTab_UnreachableService(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.session(t)

	resp := env.api.Put("/api/v1/sessions/"+id+"/tabs/wms/url", map[string]any{"url": "http://down.test/wms"})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.api.Post("/api/v1/sessions/"+id+"/tabs/wms/capabilities", struct{}{})
	assert.Equal(t, http.StatusBadGateway, resp.Code)

	tab := decode[TabBody](t, env.api.Get("/api/v1/sessions/"+id+"/tabs/wms").Body.Bytes())
	assert.False(t, tab.Loaded)
	assert.NotEmpty(t, tab.Error)
}

func TestTab_EntriesPaginate(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.session(t)
	env.api.Post("/api/v1/sessions/"+id+"/tabs/wms/capabilities", struct{}{})

	resp := env.api.Get("/api/v1/sessions/" + id + "/tabs/wms/entries?limit=2")
	require.Equal(t, http.StatusOK, resp.Code)
	page := decode[humastar.PageBody[ows.Entry]](t, resp.Body.Bytes())
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 3, page.Total)
	assert.Contains(t, strings.Join(resp.Header().Values("Link"), "\n"), `rel="next"`)
}

func TestTab_FillAndSubmit(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.session(t)
	base := "/api/v1/sessions/" + id + "/tabs/wms"
	env.api.Post(base+"/capabilities", struct{}{})

	resp := env.api.Put(base+"/fields/crs", map[string]any{"value": "", "interactive": true})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code, "blank CRS when interactive")
	resp = env.api.Put(base+"/fields/width", map[string]any{"value": "wide"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	assert.Equal(t, http.StatusNotFound, env.api.Put(base+"/fields/colour", map[string]any{"value": "red"}).Code)

	for _, kv := range [][2]string{{"layer", "india:states"}, {"crs", "EPSG:4326"}, {"format", "image/png"}, {"width", "800"}, {"height", "600"}} {
		resp = env.api.Put(base+"/fields/"+kv[0], map[string]any{"value": kv[1]})
		require.Equal(t, http.StatusOK, resp.Code, kv[0])
	}

	resp = env.api.Get(base + "/context")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "india:states")

	resp = env.api.Post(base+"/submit", struct{}{})
	require.Equal(t, http.StatusOK, resp.Code)
	q := decode[QueryBody](t, resp.Body.Bytes())
	assert.True(t, strings.HasPrefix(q.PrimaryURL, "http://maps.test/geoserver/wms?service=WMS"))
	assert.Contains(t, q.PrimaryURL, "bbox=68.1,6.5,97.4,35.7")

	resp = env.api.Get("/api/v1/sessions/" + id + "/queries")
	require.Equal(t, http.StatusOK, resp.Code)
	records := decode[[]store.QueryRecord](t, resp.Body.Bytes())
	require.Len(t, records, 1)
	assert.Equal(t, q.PrimaryURL, records[0].PrimaryURL)
}

func TestTab_SubmitIncomplete(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.session(t)
	resp := env.api.Post("/api/v1/sessions/"+id+"/tabs/wfs/submit", struct{}{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestSOS_FilterAndObservations(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.session(t)
	base := "/api/v1/sessions/" + id

	resp := env.api.Post(base+"/tabs/sos/capabilities", struct{}{})
	require.Equal(t, http.StatusOK, resp.Code)
	cat := decode[CatalogBody](t, resp.Body.Bytes())
	require.NotNil(t, cat.Extent)

	resp = env.api.Put(base+"/tabs/sos/fields/minx", map[string]any{"value": "80"})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = env.api.Post(base+"/sos/filter", struct{}{})
	require.Equal(t, http.StatusOK, resp.Code)
	matched := decode[[]ows.Entry](t, resp.Body.Bytes())
	require.Len(t, matched, 1)
	assert.Equal(t, "KOLKATA", matched[0].Label)

	resp = env.api.Put(base+"/tabs/sos/fields/sensor", map[string]any{"value": "urn:ogc:def:procedure:x-istsos:1.0:DELHI"})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = env.api.Post(base+"/sos/observations", struct{}{})
	require.Equal(t, http.StatusOK, resp.Code)
	obs := decode[ObservationsBody](t, resp.Body.Bytes())
	assert.Len(t, obs.Readings, 3)
	assert.Contains(t, obs.Query.PrimaryURL, "request=GetObservation")

	rows, err := env.store.Observations(context.Background(), id, "urn:ogc:def:procedure:x-istsos:1.0:DELHI")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestWFS_OverlayBeforeSubmit(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.session(t)
	resp := env.api.Get("/api/v1/sessions/" + id + "/wfs/overlay")
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestAgent(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, nil)
		id := env.session(t)
		resp := env.api.Post("/api/v1/sessions/"+id+"/agent", map[string]any{"instruction": "show states"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})

	t.Run("drives the form", func(t *testing.T) {
		completer := agent.CompleterFunc(func(_ context.Context, prompt string) (string, error) {
			if !strings.Contains(prompt, "india:states") {
				return "", errors.New("context missing layers")
			}
			return `{"layer": "india:states", "crs": "EPSG:4326", "format": "image/png", "width": 800, "height": 600}`, nil
		})
		env := newTestEnv(t, completer)
		id := env.session(t)

		resp := env.api.Post("/api/v1/sessions/"+id+"/agent", map[string]any{"instruction": "show Indian states as a map"})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		body := decode[AgentBody](t, resp.Body.Bytes())
		assert.Equal(t, ows.KindWMS, body.Kind)
		assert.Equal(t, []string{"layer", "crs", "format", "width", "height"}, body.Applied)
		assert.NotEmpty(t, body.Trace)
	})

	t.Run("model failure", func(t *testing.T) {
		completer := agent.CompleterFunc(func(context.Context, string) (string, error) {
			return "", errors.New("quota exceeded")
		})
		env := newTestEnv(t, completer)
		id := env.session(t)
		resp := env.api.Post("/api/v1/sessions/"+id+"/agent", map[string]any{"instruction": "show states"})
		assert.Equal(t, http.StatusBadGateway, resp.Code)
	})
}

func TestDB_TablesAndQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.api.Get("/api/v1/tables")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "query_log")

	resp = env.api.Post("/api/v1/query", map[string]any{"query": "SELECT 42 AS answer"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"answer"`)

	resp = env.api.Post("/api/v1/query", map[string]any{"query": "SELEC nonsense"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	unavailable := NewDBHandler(nil)
	_, err := unavailable.ListTables(context.Background(), &struct{}{})
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.GetStatus())
}
