package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-ows/internal/agent"
	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/fetch"
	"github.com/joeblew999/plat-ows/internal/form"
	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/request"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "ows", "testdata", name))
	require.NoError(t, err)
	return data
}

// routeFetcher answers by URL substring, first match wins.
func routeFetcher(t *testing.T, routes [][2]string) fetch.Fetcher {
	return fetch.Func(func(_ context.Context, url string) ([]byte, error) {
		for _, r := range routes {
			if strings.Contains(url, r[0]) {
				if r[1] == "" {
					return nil, &fetch.StatusError{URL: url, StatusCode: 500}
				}
				return fixture(t, r[1]), nil
			}
		}
		return nil, errors.New("unexpected fetch: " + url)
	})
}

type recordedQuery struct {
	session, primary, overlay string
	kind                      ows.ServiceKind
}

type memoryLog struct {
	mu           sync.Mutex
	queries      []recordedQuery
	observations int
}

func (l *memoryLog) RecordQuery(_ context.Context, sessionID, primary, overlay string, kind ows.ServiceKind) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, recordedQuery{sessionID, primary, overlay, kind})
	return nil
}

func (l *memoryLog) RecordObservations(_ context.Context, _, _, _ string, readings []ows.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observations += len(readings)
	return nil
}

func newTestSession(t *testing.T, f fetch.Fetcher) (*Session, *memoryLog) {
	t.Helper()
	log := &memoryLog{}
	deps := &Deps{
		Fetcher: f,
		CRS:     crs.New(f),
		Builder: request.NewBuilder(request.Config{UTCOffset: request.DefaultUTCOffset}),
		Endpoints: NewEndpointService(t.TempDir(), map[ows.ServiceKind]string{
			ows.KindWMS: "http://maps.test/geoserver/wms",
			ows.KindWFS: "http://maps.test/geoserver/wfs",
			ows.KindSOS: "http://sos.test/istsos/demo",
		}),
		Log: log,
	}
	s := newSession("test-session", deps)
	t.Cleanup(s.Close)
	return s, log
}

func wmsFetcher(t *testing.T) fetch.Fetcher {
	return routeFetcher(t, [][2]string{{"request=getCapabilities", "wms_111.xml"}})
}

func TestSession_FetchCapabilities(t *testing.T) {
	s, _ := newTestSession(t, wmsFetcher(t))
	events := s.Bus().Subscribe()

	cat, err := s.FetchCapabilities(context.Background(), ows.KindWMS)
	require.NoError(t, err)
	assert.Len(t, cat.Entries, 3)

	st := s.State(ows.KindWMS)
	assert.True(t, st.Loaded)
	assert.True(t, st.Active)
	assert.Equal(t, 3, st.Entries)
	assert.Equal(t, "http://maps.test/geoserver/wms", st.ServiceURL)
	assert.Len(t, st.Options[form.FieldFormat], 4)

	ev := <-events
	assert.Equal(t, EventCapabilities, ev.Type)
	assert.Equal(t, "3 entries", ev.Message)
}

func TestSession_FetchFailureIsRecorded(t *testing.T) {
	s, _ := newTestSession(t, routeFetcher(t, [][2]string{{"getCapabilities", ""}}))

	_, err := s.FetchCapabilities(context.Background(), ows.KindWMS)
	var se *fetch.StatusError
	require.ErrorAs(t, err, &se)

	ok, perr := s.Populated(ows.KindWMS)
	assert.False(t, ok)
	assert.ErrorAs(t, perr, &se)
	assert.NotEmpty(t, s.State(ows.KindWMS).Error)
}

func TestSession_NoServiceURL(t *testing.T) {
	s, _ := newTestSession(t, wmsFetcher(t))
	s.SetServiceURL(ows.KindWFS, "")
	_, err := s.FetchCapabilities(context.Background(), ows.KindWFS)
	assert.ErrorIs(t, err, ErrNoServiceURL)
}

func TestSession_FormAndSubmit(t *testing.T) {
	s, log := newTestSession(t, wmsFetcher(t))
	ctx := context.Background()
	_, err := s.FetchCapabilities(ctx, ows.KindWMS)
	require.NoError(t, err)

	events := s.Bus().Subscribe()
	change, err := s.Set(ctx, ows.KindWMS, form.FieldLayer, "india:states", true)
	require.NoError(t, err)
	assert.Equal(t, "empty", change.BBoxState)

	change, err = s.Set(ctx, ows.KindWMS, form.FieldCRS, "EPSG:4326", true)
	require.NoError(t, err)
	assert.Equal(t, "68.1", change.Values[form.FieldMinX])
	assert.Equal(t, "35.7", change.Values[form.FieldMaxY])

	ev := <-events
	assert.Equal(t, EventField, ev.Type)
	assert.Equal(t, form.FieldLayer, ev.Field)

	for _, kv := range [][2]string{{form.FieldFormat, "image/png"}, {form.FieldWidth, "800"}, {form.FieldHeight, "600"}} {
		require.NoError(t, s.Apply(ctx, ows.KindWMS, kv[0], kv[1]))
	}
	q, err := s.Submit(ctx, ows.KindWMS)
	require.NoError(t, err)
	assert.Contains(t, q.Primary, "layers=india:states")
	assert.Contains(t, q.Primary, "bbox=68.1,6.5,97.4,35.7")

	require.Len(t, log.queries, 1)
	assert.Equal(t, "test-session", log.queries[0].session)
	assert.True(t, strings.HasPrefix(log.queries[0].primary, "http://maps.test/geoserver/wms?service=WMS"))
	assert.Contains(t, log.queries[0].overlay, "format=image/tiff")
	assert.NotNil(t, s.State(ows.KindWMS).LastQuery)
}

func TestSession_SubmitValidation(t *testing.T) {
	s, log := newTestSession(t, wmsFetcher(t))
	_, err := s.Submit(context.Background(), ows.KindWFS)
	var verr *request.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, log.queries)
}

func TestSession_TriggerCapabilities(t *testing.T) {
	s, _ := newTestSession(t, wmsFetcher(t))
	require.NoError(t, s.TriggerCapabilities(context.Background(), ows.KindWMS))
	s.wg.Wait()

	ok, err := s.Populated(ows.KindWMS)
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 3, s.State(ows.KindWMS).Entries)
}

func TestSession_TriggerSupersedesInflightFetch(t *testing.T) {
	entered := make(chan int, 2)
	release := []chan struct{}{make(chan struct{}), make(chan struct{})}
	var mu sync.Mutex
	calls := 0
	f := fetch.Func(func(_ context.Context, url string) ([]byte, error) {
		mu.Lock()
		n := calls
		calls++
		mu.Unlock()
		entered <- n
		<-release[n]
		return fixture(t, "wms_111.xml"), nil
	})
	s, _ := newTestSession(t, f)

	first := make(chan error, 1)
	go func() {
		_, err := s.FetchCapabilities(context.Background(), ows.KindWMS)
		first <- err
	}()
	require.Equal(t, 0, <-entered)

	require.NoError(t, s.TriggerCapabilities(context.Background(), ows.KindWMS))
	close(release[0])
	assert.ErrorIs(t, <-first, ErrSuperseded)

	ok, _ := s.Populated(ows.KindWMS)
	assert.False(t, ok, "stale catalog must not load after a new trigger")

	require.Equal(t, 1, <-entered)
	close(release[1])
	s.wg.Wait()
	ok, err := s.Populated(ows.KindWMS)
	assert.True(t, ok)
	assert.NoError(t, err)
}

func sosFetcher(t *testing.T) fetch.Fetcher {
	return routeFetcher(t, [][2]string{
		{"request=GetCapabilities", "sos_caps.xml"},
		{"request=GetObservation", "observation.xml"},
		{"DELHI", "sensor_delhi.xml"},
		{"KOLKATA", "sensor_kolkata.xml"},
		{"MUMBAI", ""},
	})
}

func TestSession_SOSEnrichment(t *testing.T) {
	s, _ := newTestSession(t, sosFetcher(t))
	events := s.Bus().Subscribe()

	cat, err := s.FetchCapabilities(context.Background(), ows.KindSOS)
	require.NoError(t, err)
	require.Len(t, cat.Entries, 3)
	assert.Equal(t, ows.LoadError, cat.Entries[1].ExtraValue(ows.ExtraDescription))
	require.NotNil(t, cat.Extent)

	values := s.State(ows.KindSOS).Values
	assert.Equal(t, "77.2", values[form.FieldMinX])
	assert.Equal(t, "22.5", values[form.FieldMinY])
	assert.Equal(t, "88.3", values[form.FieldMaxX])
	assert.Equal(t, "28.6", values[form.FieldMaxY])

	assert.Equal(t, EventCapabilities, (<-events).Type)
	enriched := <-events
	assert.Equal(t, EventEnriched, enriched.Type)
	assert.Equal(t, "3 sensors enriched, 1 failed", enriched.Message)
}

func TestSession_Observations(t *testing.T) {
	s, log := newTestSession(t, sosFetcher(t))
	ctx := context.Background()
	_, err := s.FetchCapabilities(ctx, ows.KindSOS)
	require.NoError(t, err)

	change, err := s.Set(ctx, ows.KindSOS, form.FieldSensor, "urn:ogc:def:procedure:x-istsos:1.0:DELHI", true)
	require.NoError(t, err)
	assert.Equal(t, "2023-06-03", change.Values[form.FieldStartDate])
	assert.Equal(t, "20:00:00", change.Values[form.FieldStartTime])

	readings, q, err := s.Observations(ctx)
	require.NoError(t, err)
	assert.Contains(t, q.Primary, "eventTime=2023-06-03T14:30:00Z/2023-06-10T03:00:00Z")
	assert.Len(t, readings, 3)
	assert.Equal(t, 3, log.observations)
}

func TestSession_FilterSensors(t *testing.T) {
	s, _ := newTestSession(t, sosFetcher(t))
	ctx := context.Background()
	_, err := s.FetchCapabilities(ctx, ows.KindSOS)
	require.NoError(t, err)

	_, err = s.Set(ctx, ows.KindSOS, form.FieldMinX, "80", true)
	require.NoError(t, err)
	matched, err := s.FilterSensors()
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "KOLKATA", matched[0].Label)
}

func TestSession_OverlayNeedsQuery(t *testing.T) {
	s, _ := newTestSession(t, wmsFetcher(t))
	_, err := s.Overlay(context.Background())
	assert.ErrorIs(t, err, ErrNoQuery)
}

func TestSession_DrivenByAgent(t *testing.T) {
	s, log := newTestSession(t, wmsFetcher(t))
	completer := agent.CompleterFunc(func(_ context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "india:states") {
			return "", errors.New("context missing layers")
		}
		return `{"layer": "india:states", "crs": "EPSG:4326", "format": "image/png", "width": 800, "height": 600}`, nil
	})
	bridge := agent.New(s, completer, agent.Config{
		Poller:      agent.Poller{Attempts: 200, Interval: 5 * time.Millisecond},
		SettleDelay: time.Millisecond,
	})

	res, err := bridge.Run(context.Background(), "show Indian states as a map", func(st agent.Status) {
		s.PublishStatus(st.Message, st.Level)
	})
	require.NoError(t, err)
	assert.Equal(t, ows.KindWMS, res.Kind)
	assert.Equal(t, []string{"layer", "crs", "format", "width", "height"}, res.Applied)
	assert.Contains(t, res.Query.Primary, "bbox=68.1,6.5,97.4,35.7&width=800&height=600")
	assert.Len(t, log.queries, 1)
}

func TestEndpointService(t *testing.T) {
	dir := t.TempDir()
	svc := NewEndpointService(dir, map[ows.ServiceKind]string{ows.KindWMS: "http://a.test/wms"})

	assert.Equal(t, "http://a.test/wms", svc.DefaultURL(ows.KindWMS))
	assert.Empty(t, svc.DefaultURL(ows.KindSOS))

	ep, err := svc.Create(Endpoint{Name: "IIRS SOS!", Kind: ows.KindSOS, URL: "http://sos.test/istsos"})
	require.NoError(t, err)
	assert.Equal(t, "iirs_sos", ep.ID)

	_, err = svc.Create(Endpoint{Name: "IIRS SOS", Kind: ows.KindSOS, URL: "http://other.test"})
	assert.ErrorIs(t, err, ErrExists)

	_, err = svc.Update("missing", Endpoint{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	reloaded := NewEndpointService(dir, nil)
	assert.Len(t, reloaded.List(""), 2)
	assert.Equal(t, "http://sos.test/istsos", reloaded.DefaultURL(ows.KindSOS))

	require.NoError(t, reloaded.Delete("iirs_sos"))
	assert.ErrorIs(t, reloaded.Delete("iirs_sos"), ErrNotFound)
	assert.Len(t, NewEndpointService(dir, nil).List(ows.KindSOS), 0)
}

func TestSessionManager(t *testing.T) {
	m := NewSessionManager(&Deps{
		Fetcher: wmsFetcher(t),
		CRS:     crs.New(wmsFetcher(t)),
		Builder: request.NewBuilder(request.Config{}),
	})
	a := m.Create()
	b := m.Create()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ActiveSessions))

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Len(t, m.List(), 2)

	require.NoError(t, m.Delete(a.ID))
	_, err = m.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(a.ID), ErrNotFound)

	m.Close()
	assert.Empty(t, m.List())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveSessions))
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	bus.Publish(Event{Type: EventField, Field: "crs"})
	assert.Equal(t, "crs", (<-ch).Field)

	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	ch2 := bus.Subscribe()
	bus.Close()
	_, open = <-ch2
	assert.False(t, open)
}
