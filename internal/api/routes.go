// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ows/internal/agent"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/service"
	"github.com/joeblew999/plat-ows/internal/store"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Endpoints *service.EndpointService
	Sessions  *service.SessionManager
	// Store is nil when DuckDB is unavailable.
	Store *store.Store
	// Completer is nil when no language model is configured.
	Completer agent.Completer
	Agent     agent.Config
}

// Types

type EndpointIDInput struct {
	ID string `path:"id" doc:"Endpoint ID" example:"default_wms"`
}

type SessionIDInput struct {
	ID string `path:"id" doc:"Session ID" example:"8b0f7c9e-3f6a-4d1e-9a53-5c1c1b7f2a10"`
}

type TabInput struct {
	SessionIDInput
	Kind ows.ServiceKind `path:"kind" enum:"wms,wfs,sos" doc:"Service tab"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type SessionBody struct {
	ID      string          `json:"id" doc:"Session ID"`
	Created time.Time       `json:"created" doc:"Creation time"`
	Active  ows.ServiceKind `json:"active" doc:"Active service tab"`
}

func sessionBody(s *service.Session) SessionBody {
	return SessionBody{ID: s.ID, Created: s.Created, Active: s.Active()}
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterEndpoints registers saved endpoint CRUD routes.
func (h *APIHandler) RegisterEndpoints(api huma.API) {
	huma.Get(api, "/api/v1/endpoints", h.ListEndpoints, huma.OperationTags("endpoints"))
	huma.Post(api, "/api/v1/endpoints", h.CreateEndpoint, huma.OperationTags("endpoints"))
	huma.Get(api, "/api/v1/endpoints/{id}", h.GetEndpoint, huma.OperationTags("endpoints"))
	huma.Put(api, "/api/v1/endpoints/{id}", h.PutEndpoint, huma.OperationTags("endpoints"))
	huma.Delete(api, "/api/v1/endpoints/{id}", h.DeleteEndpoint, huma.OperationTags("endpoints"))
}

// RegisterSessions registers session lifecycle routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Get(api, "/api/v1/sessions", h.ListSessions, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions", h.CreateSession, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, huma.OperationTags("sessions"))
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, huma.OperationTags("sessions"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) ListEndpoints(ctx context.Context, input *struct {
	Kind ows.ServiceKind `query:"kind" enum:"wms,wfs,sos" doc:"Only endpoints of this kind"`
}) (*struct{ Body []service.Endpoint }, error) {
	return &struct{ Body []service.Endpoint }{Body: h.svc.Endpoints.List(input.Kind)}, nil
}

func (h *APIHandler) CreateEndpoint(ctx context.Context, input *struct{ Body service.Endpoint }) (*struct{ Body service.Endpoint }, error) {
	created, err := h.svc.Endpoints.Create(input.Body)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body service.Endpoint }{Body: created}, nil
}

func (h *APIHandler) GetEndpoint(ctx context.Context, input *EndpointIDInput) (*struct{ Body service.Endpoint }, error) {
	ep, ok := h.svc.Endpoints.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("endpoint not found")
	}
	return &struct{ Body service.Endpoint }{Body: ep}, nil
}

func (h *APIHandler) PutEndpoint(ctx context.Context, input *struct {
	EndpointIDInput
	Body service.Endpoint
}) (*struct{ Body service.Endpoint }, error) {
	updated, err := h.svc.Endpoints.Update(input.ID, input.Body)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body service.Endpoint }{Body: updated}, nil
}

func (h *APIHandler) DeleteEndpoint(ctx context.Context, input *EndpointIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Endpoints.Delete(input.ID); err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Endpoint deleted"}}, nil
}

func (h *APIHandler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body []SessionBody }, error) {
	out := []SessionBody{}
	for _, s := range h.svc.Sessions.List() {
		out = append(out, sessionBody(s))
	}
	return &struct{ Body []SessionBody }{Body: out}, nil
}

func (h *APIHandler) CreateSession(ctx context.Context, input *struct{}) (*struct{ Body SessionBody }, error) {
	return &struct{ Body SessionBody }{Body: sessionBody(h.svc.Sessions.Create())}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionIDInput) (*struct{ Body SessionBody }, error) {
	s, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body SessionBody }{Body: sessionBody(s)}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Sessions.Delete(input.ID); err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session deleted"}}, nil
}

func (h *APIHandler) session(id string) (*service.Session, error) {
	s, err := h.svc.Sessions.Get(id)
	if err != nil {
		return nil, toHumaError(err)
	}
	return s, nil
}
