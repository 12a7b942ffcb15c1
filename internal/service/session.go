package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/fetch"
	"github.com/joeblew999/plat-ows/internal/form"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/overlay"
	"github.com/joeblew999/plat-ows/internal/request"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

var (
	// ErrSuperseded is returned when a newer capabilities fetch for the same
	// tab started while this one was in flight.
	ErrSuperseded = errors.New("superseded by a newer capabilities fetch")
	// ErrNoQuery is returned when an overlay is requested before a submit.
	ErrNoQuery = errors.New("no query submitted yet")
	// ErrNoServiceURL is returned when a tab has no base URL configured.
	ErrNoServiceURL = errors.New("no service URL configured")
)

// QueryLog records submitted queries and fetched observations.
type QueryLog interface {
	RecordQuery(ctx context.Context, sessionID string, primaryURL, overlayURL string, kind ows.ServiceKind) error
	RecordObservations(ctx context.Context, sessionID, procedure, property string, readings []ows.Reading) error
}

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Fetcher   fetch.Fetcher
	CRS       *crs.Registry
	Builder   *request.Builder
	Endpoints *EndpointService
	Log       QueryLog
}

// Session owns one user's three service tabs. All form state changes go
// through the session mutex, one event at a time; network calls made by a
// change (CRS lookups) run while the lock is held.
type Session struct {
	ID      string
	Created time.Time

	deps   *Deps
	parser *ows.Parser
	bus    *EventBus

	mu      sync.Mutex
	active  ows.ServiceKind
	engines map[ows.ServiceKind]*form.Engine
	urls    map[ows.ServiceKind]string
	gen     map[ows.ServiceKind]int
	queries map[ows.ServiceKind]request.Query

	wg sync.WaitGroup
}

func newSession(id string, deps *Deps) *Session {
	s := &Session{
		ID:      id,
		Created: time.Now(),
		deps:    deps,
		parser:  ows.NewParser(deps.CRS),
		bus:     NewEventBus(),
		active:  ows.KindWMS,
		engines: make(map[ows.ServiceKind]*form.Engine),
		urls:    make(map[ows.ServiceKind]string),
		gen:     make(map[ows.ServiceKind]int),
		queries: make(map[ows.ServiceKind]request.Query),
	}
	for _, kind := range ows.Kinds {
		s.engines[kind] = form.NewEngine(kind, deps.CRS, deps.Builder.Zone())
		if deps.Endpoints != nil {
			s.urls[kind] = deps.Endpoints.DefaultURL(kind)
		}
	}
	return s
}

// Bus returns the session's event bus.
func (s *Session) Bus() *EventBus { return s.bus }

// Activate makes kind the active tab.
func (s *Session) Activate(kind ows.ServiceKind) {
	s.mu.Lock()
	s.active = kind
	s.mu.Unlock()
}

// Active returns the active tab.
func (s *Session) Active() ows.ServiceKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetServiceURL changes the base URL capabilities are fetched from.
func (s *Session) SetServiceURL(kind ows.ServiceKind, url string) {
	s.mu.Lock()
	s.urls[kind] = url
	s.mu.Unlock()
}

// ServiceURL returns the tab's base URL.
func (s *Session) ServiceURL(kind ows.ServiceKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urls[kind]
}

// FetchCapabilities fetches and parses the tab's capabilities document and
// loads it into the form. SOS sensors are then enriched one by one before
// it returns. Soft parse errors are logged and the catalog is still loaded.
func (s *Session) FetchCapabilities(ctx context.Context, kind ows.ServiceKind) (*ows.Catalog, error) {
	return s.fetchCapabilities(ctx, kind, s.beginFetch(kind))
}

// beginFetch clears the tab and claims a new generation. Any fetch still
// holding an older generation is discarded when it completes.
func (s *Session) beginFetch(kind ows.ServiceKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[kind].Clear()
	s.gen[kind]++
	return s.gen[kind]
}

func (s *Session) fetchCapabilities(ctx context.Context, kind ows.ServiceKind, gen int) (*ows.Catalog, error) {
	s.mu.Lock()
	eng := s.engines[kind]
	base := s.urls[kind]
	s.mu.Unlock()

	cat, err := s.loadCatalog(ctx, kind, base)

	s.mu.Lock()
	if s.gen[kind] != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err != nil {
		eng.Fail(err)
		s.mu.Unlock()
		s.bus.Publish(Event{Type: EventCapabilities, Kind: kind, Message: err.Error(), Level: "error"})
		return nil, err
	}
	eng.Load(cat)
	s.mu.Unlock()
	s.bus.Publish(Event{Type: EventCapabilities, Kind: kind, Message: fmt.Sprintf("%d entries", len(cat.Entries)), Level: "success"})

	if kind != ows.KindSOS || len(cat.Entries) == 0 {
		return cat, nil
	}

	ows.EnrichSensors(ctx, s.deps.Fetcher, base, cat.Entries, func(en ows.Enrichment) {
		s.mu.Lock()
		if s.gen[kind] == gen {
			eng.ApplyEnrichment(en)
			cat = eng.Catalog()
		}
		values := eng.Values()
		s.mu.Unlock()
		s.bus.Publish(Event{
			Type:    EventEnriched,
			Kind:    kind,
			Values:  values,
			Message: fmt.Sprintf("%d sensors enriched, %d failed", len(en.Entries), en.Failed),
		})
	})
	return cat, nil
}

func (s *Session) loadCatalog(ctx context.Context, kind ows.ServiceKind, base string) (*ows.Catalog, error) {
	if base == "" {
		return nil, ErrNoServiceURL
	}
	raw, err := s.deps.Fetcher.Fetch(ctx, ows.CapabilitiesURL(kind, base))
	if err != nil {
		return nil, err
	}
	cat, err := s.parser.Parse(kind, raw)
	if err != nil && !errors.Is(err, ows.ErrEmptySelector) {
		return nil, err
	}
	return cat, nil
}

// TriggerCapabilities clears the tab's entry field and fetches capabilities
// in the background. Populated reports the outcome.
func (s *Session) TriggerCapabilities(ctx context.Context, kind ows.ServiceKind) error {
	gen := s.beginFetch(kind)

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.fetchCapabilities(bg, kind, gen); err != nil && !errors.Is(err, ErrSuperseded) {
			logging.Warn("Capabilities", "%s background fetch: %v", kind.Upper(), err)
		}
	}()
	return nil
}

// Populated reports whether the tab's catalog is loaded.
func (s *Session) Populated(kind ows.ServiceKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engines[kind].Populated()
}

// BuildContext returns the agent context snapshot of the tab.
func (s *Session) BuildContext(kind ows.ServiceKind) form.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engines[kind].BuildContext()
}

// Set writes one field and publishes the resulting change.
func (s *Session) Set(ctx context.Context, kind ows.ServiceKind, field, value string, interactive bool) (form.Change, error) {
	s.mu.Lock()
	change, err := s.engines[kind].Set(ctx, field, value, interactive)
	s.mu.Unlock()

	if change.Field != "" {
		ev := Event{Type: EventField, Kind: kind, Field: field, Values: change.Values, Message: change.BBoxState}
		if err != nil {
			ev.Level = "error"
			ev.Message = err.Error()
		}
		s.bus.Publish(ev)
	}
	return change, err
}

// Apply writes a field on the non-interactive path.
func (s *Session) Apply(ctx context.Context, kind ows.ServiceKind, field, value string) error {
	_, err := s.Set(ctx, kind, field, value, false)
	return err
}

// Submit validates the tab and builds its outbound query.
func (s *Session) Submit(ctx context.Context, kind ows.ServiceKind) (request.Query, error) {
	s.mu.Lock()
	sel := s.engines[kind].Selection()
	base := s.urls[kind]
	s.mu.Unlock()

	q, err := s.deps.Builder.Build(kind, sel)
	if err != nil {
		return request.Query{}, err
	}

	s.mu.Lock()
	s.queries[kind] = q
	s.mu.Unlock()

	primary, overlayURL := q.URLs(base)
	if s.deps.Log != nil {
		if err := s.deps.Log.RecordQuery(ctx, s.ID, primary, overlayURL, kind); err != nil {
			logging.Warn("Store", "record query: %v", err)
		}
	}
	s.bus.Publish(Event{Type: EventSubmitted, Kind: kind, Message: primary, Level: "success"})
	return q, nil
}

// State returns a snapshot of the tab.
func (s *Session) State(kind ows.ServiceKind) TabState {
	s.mu.Lock()
	defer s.mu.Unlock()

	eng := s.engines[kind]
	loaded, loadErr := eng.Populated()
	st := TabState{
		Kind:       kind,
		Active:     s.active == kind,
		ServiceURL: s.urls[kind],
		Loaded:     loaded,
		Entries:    eng.EntryCount(),
		Fields:     eng.Fields(),
		Values:     eng.Values(),
		Options:    map[string][]form.Option{},
		BBoxState:  eng.BBox().State().String(),
	}
	if loadErr != nil {
		st.Error = loadErr.Error()
	}
	for _, f := range eng.Fields() {
		if opts := eng.Options(f.Name); opts != nil {
			st.Options[f.Name] = opts
		}
	}
	if q, ok := s.queries[kind]; ok {
		st.LastQuery = &q
	}
	return st
}

// Catalog returns the tab's loaded catalog, or nil.
func (s *Session) Catalog(kind ows.ServiceKind) *ows.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engines[kind].Catalog()
}

// FilterSensors narrows the SOS sensor options to the displayed box.
func (s *Session) FilterSensors() ([]ows.Entry, error) {
	s.mu.Lock()
	matched, err := s.engines[ows.KindSOS].FilterSensors()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.bus.Publish(Event{Type: EventField, Kind: ows.KindSOS, Field: form.FieldSensor,
		Message: fmt.Sprintf("%d sensors in bounding box", len(matched))})
	return matched, nil
}

// Observations submits the SOS tab, fetches the observation series and
// stores it.
func (s *Session) Observations(ctx context.Context) ([]ows.Reading, request.Query, error) {
	q, err := s.Submit(ctx, ows.KindSOS)
	if err != nil {
		return nil, request.Query{}, err
	}
	s.mu.Lock()
	base := s.urls[ows.KindSOS]
	sel := s.engines[ows.KindSOS].Selection()
	s.mu.Unlock()

	primary, _ := q.URLs(base)
	raw, err := s.deps.Fetcher.Fetch(ctx, primary)
	if err != nil {
		return nil, q, err
	}
	readings, err := ows.ParseObservations(raw, s.deps.Builder.Zone())
	if err != nil {
		return nil, q, err
	}
	if s.deps.Log != nil {
		if err := s.deps.Log.RecordObservations(ctx, s.ID, sel.Entry, sel.ObservedProperty, readings); err != nil {
			logging.Warn("Store", "record observations: %v", err)
		}
	}
	return readings, q, nil
}

// Overlay fetches the map overlay of the last WFS submit and summarizes it.
func (s *Session) Overlay(ctx context.Context) (*overlay.Summary, error) {
	s.mu.Lock()
	q, ok := s.queries[ows.KindWFS]
	base := s.urls[ows.KindWFS]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoQuery
	}

	_, overlayURL := q.URLs(base)
	raw, err := s.deps.Fetcher.Fetch(ctx, overlayURL)
	if err != nil {
		return nil, err
	}
	return overlay.Summarize(raw)
}

// PublishStatus forwards an agent status to subscribers.
func (s *Session) PublishStatus(message, level string) {
	s.bus.Publish(Event{Type: EventAgent, Message: message, Level: level})
}

// Close waits for background fetches and closes the bus.
func (s *Session) Close() {
	s.wg.Wait()
	s.bus.Close()
}
