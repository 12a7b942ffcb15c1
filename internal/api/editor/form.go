package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ows/internal/agent"
	"github.com/joeblew999/plat-ows/internal/humastar"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/service"
	"github.com/joeblew999/plat-ows/internal/templates"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// FormHandler drives the service tabs of one session over Datastar SSE.
type FormHandler struct {
	humastar.Handler
	sessions  *service.SessionManager
	completer agent.Completer
	agentCfg  agent.Config
}

// NewFormHandler creates a form handler. completer may be nil, in which case
// the agent route reports that no model is configured.
func NewFormHandler(sessions *service.SessionManager, renderer *templates.Renderer, completer agent.Completer, cfg agent.Config) *FormHandler {
	return &FormHandler{
		Handler:   humastar.Handler{Renderer: renderer},
		sessions:  sessions,
		completer: completer,
		agentCfg:  cfg,
	}
}

func (h *FormHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("editor")
	huma.Get(api, "/api/v1/editor/{id}/events", h.Events, tags)
	huma.Post(api, "/api/v1/editor/{id}/{kind}/capabilities", h.Capabilities, tags)
	huma.Post(api, "/api/v1/editor/{id}/{kind}/fields/{field}", h.Field, tags)
	huma.Post(api, "/api/v1/editor/{id}/{kind}/submit", h.Submit, tags)
	huma.Post(api, "/api/v1/editor/{id}/sos/observations", h.Observations, tags)
	huma.Post(api, "/api/v1/editor/{id}/agent", h.Agent, tags)
}

type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type TabInput struct {
	SessionInput
	Kind ows.ServiceKind `path:"kind" enum:"wms,wfs,sos" doc:"Service tab"`
}

type FieldInput struct {
	TabInput
	Field string `path:"field" doc:"Form field name"`
	humastar.SignalsInput
}

type AgentInput struct {
	SessionInput
	humastar.SignalsInput
}

func (h *FormHandler) session(id string) (*service.Session, error) {
	s, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return s, nil
}

// Events streams the session's form changes until the client disconnects
// or the session is deleted. The current state of every tab is sent first.
func (h *FormHandler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		ch := s.Bus().Subscribe()
		defer s.Bus().Unsubscribe(ch)

		for _, kind := range ows.Kinds {
			patchTab(&h.Handler, sse, s.State(kind))
		}

		for {
			select {
			case <-sse.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				h.forward(sse, s, ev)
			}
		}
	}), nil
}

func (h *FormHandler) forward(sse humastar.SSE, s *service.Session, ev service.Event) {
	switch ev.Type {
	case service.EventCapabilities, service.EventEnriched:
		patchTab(&h.Handler, sse, s.State(ev.Kind))
	case service.EventField:
		st := s.State(ev.Kind)
		sse.Signals(valueSignals(ev.Kind, st.Values, st.BBoxState))
	case service.EventSubmitted:
		sse.Signals(map[string]any{string(ev.Kind) + "Query": ev.Message})
	}
	if ev.Message != "" {
		id := "status"
		if ev.Kind != "" {
			id = string(ev.Kind) + "-status"
		}
		patchStatus(&h.Handler, sse, id, ev.Message, ev.Level)
	}
}

// Capabilities fetches the tab's capabilities and patches its selects.
func (h *FormHandler) Capabilities(ctx context.Context, input *TabInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	s.Activate(input.Kind)
	return h.Stream(func(sse humastar.SSE) {
		cat, err := s.FetchCapabilities(sse.Context(), input.Kind)
		if errors.Is(err, service.ErrSuperseded) {
			return
		}
		patchTab(&h.Handler, sse, s.State(input.Kind))
		if err != nil {
			sse.Error(err.Error())
			return
		}
		sse.Success(fmt.Sprintf("%d entries loaded", len(cat.Entries)))
	}), nil
}

// Field applies one field from the tab's signal group and answers with the
// recomputed values.
func (h *FormHandler) Field(ctx context.Context, input *FieldInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	value := signals.Group(string(input.Kind)).String(input.Field)

	return h.Stream(func(sse humastar.SSE) {
		change, err := s.Set(sse.Context(), input.Kind, input.Field, value, true)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		sse.Signals(valueSignals(input.Kind, change.Values, change.BBoxState))
	}), nil
}

// Submit builds the tab's request and patches the resulting links.
func (h *FormHandler) Submit(ctx context.Context, input *TabInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		q, err := s.Submit(sse.Context(), input.Kind)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		primary, overlay := q.URLs(s.ServiceURL(input.Kind))
		html := h.Renderer.MustRender("query-links", map[string]string{
			"Kind": string(input.Kind), "Primary": primary, "Overlay": overlay,
		})
		sse.Patch(html, fmt.Sprintf("#%s-links", input.Kind))
		sse.Success("Request built")
	}), nil
}

// Observations fetches the selected sensor's readings into the table body.
func (h *FormHandler) Observations(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		readings, _, err := s.Observations(sse.Context())
		if err != nil {
			sse.Error(err.Error())
			return
		}
		var buf bytes.Buffer
		if len(readings) == 0 {
			h.Renderer.RenderToBuffer(&buf, "empty-state", map[string]string{
				"Title": "No readings", "Message": "Widen the time window and try again",
			})
		}
		for _, r := range readings {
			h.Renderer.RenderToBuffer(&buf, "reading-row", r)
		}
		sse.Patch(buf.String(), "#sos-readings")
		sse.Success(fmt.Sprintf("%d readings", len(readings)))
	}), nil
}

// Agent runs the natural-language driver against the session. Status
// reports stream to the client as they happen.
func (h *FormHandler) Agent(ctx context.Context, input *AgentInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	instruction := signals.String("instruction")
	if instruction == "" {
		return nil, huma.Error400BadRequest("instruction is required")
	}
	if h.completer == nil {
		return nil, huma.Error503ServiceUnavailable("no language model configured")
	}

	return h.Stream(func(sse humastar.SSE) {
		start := time.Now()
		bridge := agent.New(s, h.completer, h.agentCfg)
		res, err := bridge.Run(sse.Context(), instruction, func(st agent.Status) {
			s.PublishStatus(st.Message, st.Level)
			patchStatus(&h.Handler, sse, "agent-status", st.Message, st.Level)
			sse.Signals(map[string]any{"agentState": string(st.State)})
		})
		if err != nil {
			logging.Warn("Agent", "agent run failed after %s: %v", time.Since(start), err)
			sse.Error(err.Error())
			return
		}
		patchTab(&h.Handler, sse, s.State(res.Kind))
		sse.Success(fmt.Sprintf("Applied %d fields", len(res.Applied)))
	}), nil
}
