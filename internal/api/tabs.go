package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/form"
	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/humastar"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/overlay"
	"github.com/joeblew999/plat-ows/internal/request"
	"github.com/joeblew999/plat-ows/internal/service"
	"github.com/joeblew999/plat-ows/internal/store"
)

const tabPath = "/api/v1/sessions/%s/tabs/%s"

var (
	alwaysActions = []humastar.ActionDef{
		{Rel: "capabilities", Pattern: tabPath + "/capabilities", Method: "POST", Title: "Fetch GetCapabilities"},
		{Rel: "service-url", Pattern: tabPath + "/url", Method: "PUT", Title: "Change the service URL"},
	}
	loadedActions = []humastar.ActionDef{
		{Rel: "entries", Pattern: tabPath + "/entries", Method: "GET", Title: "List selectable entries"},
		{Rel: "context", Pattern: tabPath + "/context", Method: "GET", Title: "Agent context snapshot"},
		{Rel: "submit", Pattern: tabPath + "/submit", Method: "POST", Title: "Build the outbound request"},
	}
	sosActions = []humastar.ActionDef{
		{Rel: "filter", Pattern: "/api/v1/sessions/%s/sos/filter", Method: "POST", Title: "Filter sensors by bounding box"},
		{Rel: "observations", Pattern: "/api/v1/sessions/%s/sos/observations", Method: "POST", Title: "Fetch observations"},
	}
	overlayAction = humastar.ActionDef{Rel: "overlay", Pattern: "/api/v1/sessions/%s/wfs/overlay", Method: "GET", Title: "Summarize the map overlay"}
)

// TabBody is a tab snapshot with the actions its state allows.
type TabBody struct {
	service.TabState
	Links []humastar.Action `json:"links" doc:"Actions available in the current state"`
}

func (b TabBody) Actions() []humastar.Action { return b.Links }

func tabBody(sessionID string, st service.TabState) TabBody {
	actions := humastar.ActionsFor(alwaysActions, sessionID, st.Kind)
	if st.Loaded {
		actions = append(actions, humastar.ActionsFor(loadedActions, sessionID, st.Kind)...)
		if st.Kind == ows.KindSOS {
			actions = append(actions, humastar.ActionsFor(sosActions, sessionID)...)
		}
	}
	if st.Kind == ows.KindWFS && st.LastQuery != nil {
		actions = append(actions, overlayAction.Action(sessionID))
	}
	return TabBody{TabState: st, Links: actions}
}

type CatalogBody struct {
	Kind    ows.ServiceKind  `json:"kind" doc:"Service kind"`
	Entries int              `json:"entries" doc:"Number of selectable entries"`
	CRS     []crs.Descriptor `json:"crs" doc:"CRS options"`
	Formats []string         `json:"formats" doc:"Output formats"`
	Extent  *geo.Envelope    `json:"extent,omitempty" doc:"Sensor extent (SOS)"`
}

type FieldInput struct {
	TabInput
	Field string `path:"field" doc:"Form field name" example:"crs"`
	Body  struct {
		Value       string `json:"value" doc:"New value; blank clears the field"`
		Interactive bool   `json:"interactive,omitempty" doc:"Prompt for missing prerequisites as a person would"`
	}
}

type QueryBody struct {
	request.Query
	PrimaryURL string `json:"primaryUrl" doc:"Primary query joined onto the service URL"`
	OverlayURL string `json:"overlayUrl,omitempty" doc:"Overlay query joined onto the service URL"`
}

func queryBody(q request.Query, base string) QueryBody {
	primary, overlayURL := q.URLs(base)
	return QueryBody{Query: q, PrimaryURL: primary, OverlayURL: overlayURL}
}

type ObservationsBody struct {
	Query    QueryBody     `json:"query" doc:"GetObservation request"`
	Readings []ows.Reading `json:"readings" doc:"Readings in time order"`
}

// RegisterTabs registers the per-tab form routes of a session.
func (h *APIHandler) RegisterTabs(api huma.API) {
	tags := huma.OperationTags("tabs")
	huma.Get(api, "/api/v1/sessions/{id}/tabs/{kind}", h.GetTab, tags)
	huma.Put(api, "/api/v1/sessions/{id}/tabs/{kind}/url", h.PutServiceURL, tags)
	huma.Post(api, "/api/v1/sessions/{id}/tabs/{kind}/capabilities", h.FetchCapabilities, tags)
	huma.Get(api, "/api/v1/sessions/{id}/tabs/{kind}/entries", h.ListEntries, tags)
	huma.Put(api, "/api/v1/sessions/{id}/tabs/{kind}/fields/{field}", h.PutField, tags)
	huma.Get(api, "/api/v1/sessions/{id}/tabs/{kind}/context", h.GetContext, tags)
	huma.Post(api, "/api/v1/sessions/{id}/tabs/{kind}/submit", h.Submit, tags)
	huma.Get(api, "/api/v1/sessions/{id}/queries", h.ListQueries, tags)
}

// RegisterServiceExtras registers the SOS and WFS specific routes.
func (h *APIHandler) RegisterServiceExtras(api huma.API) {
	huma.Post(api, "/api/v1/sessions/{id}/sos/filter", h.FilterSensors, huma.OperationTags("sos"))
	huma.Post(api, "/api/v1/sessions/{id}/sos/observations", h.FetchObservations, huma.OperationTags("sos"))
	huma.Get(api, "/api/v1/sessions/{id}/wfs/overlay", h.GetOverlay, huma.OperationTags("wfs"))
}

func (h *APIHandler) GetTab(ctx context.Context, input *TabInput) (*struct{ Body TabBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body TabBody }{Body: tabBody(s.ID, s.State(input.Kind))}, nil
}

func (h *APIHandler) PutServiceURL(ctx context.Context, input *struct {
	TabInput
	Body struct {
		URL string `json:"url" format:"uri" doc:"Service base URL"`
	}
}) (*struct{ Body TabBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	s.SetServiceURL(input.Kind, input.Body.URL)
	return &struct{ Body TabBody }{Body: tabBody(s.ID, s.State(input.Kind))}, nil
}

func (h *APIHandler) FetchCapabilities(ctx context.Context, input *TabInput) (*struct{ Body CatalogBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	s.Activate(input.Kind)
	cat, err := s.FetchCapabilities(ctx, input.Kind)
	if err != nil {
		return nil, toHumaError(err)
	}
	body := CatalogBody{Kind: cat.Kind, Entries: len(cat.Entries), CRS: cat.CRS, Formats: cat.Formats, Extent: cat.Extent}
	return &struct{ Body CatalogBody }{Body: body}, nil
}

func (h *APIHandler) ListEntries(ctx context.Context, input *struct {
	TabInput
	humastar.PageInput
}) (*struct {
	Body humastar.PageBody[ows.Entry]
}, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	entries := []ows.Entry{}
	if cat := s.Catalog(input.Kind); cat != nil {
		entries = cat.Entries
	}
	return &struct {
		Body humastar.PageBody[ows.Entry]
	}{Body: humastar.Paginate(entries, input.Offset, input.Limit)}, nil
}

func (h *APIHandler) PutField(ctx context.Context, input *FieldInput) (*struct{ Body form.Change }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	change, err := s.Set(ctx, input.Kind, input.Field, input.Body.Value, input.Body.Interactive)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body form.Change }{Body: change}, nil
}

func (h *APIHandler) GetContext(ctx context.Context, input *TabInput) (*struct{ Body form.Context }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body form.Context }{Body: s.BuildContext(input.Kind)}, nil
}

func (h *APIHandler) Submit(ctx context.Context, input *TabInput) (*struct{ Body QueryBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	q, err := s.Submit(ctx, input.Kind)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body QueryBody }{Body: queryBody(q, s.ServiceURL(input.Kind))}, nil
}

func (h *APIHandler) ListQueries(ctx context.Context, input *struct {
	SessionIDInput
	Limit int `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Maximum number of queries"`
}) (*struct{ Body []store.QueryRecord }, error) {
	if h.svc.Store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	records, err := h.svc.Store.Queries(ctx, input.ID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list queries", err)
	}
	return &struct{ Body []store.QueryRecord }{Body: records}, nil
}

func (h *APIHandler) FilterSensors(ctx context.Context, input *SessionIDInput) (*struct{ Body []ows.Entry }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	matched, err := s.FilterSensors()
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body []ows.Entry }{Body: matched}, nil
}

func (h *APIHandler) FetchObservations(ctx context.Context, input *SessionIDInput) (*struct{ Body ObservationsBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	readings, q, err := s.Observations(ctx)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body ObservationsBody }{Body: ObservationsBody{
		Query:    queryBody(q, s.ServiceURL(ows.KindSOS)),
		Readings: readings,
	}}, nil
}

func (h *APIHandler) GetOverlay(ctx context.Context, input *SessionIDInput) (*struct{ Body *overlay.Summary }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	summary, err := s.Overlay(ctx)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body *overlay.Summary }{Body: summary}, nil
}
