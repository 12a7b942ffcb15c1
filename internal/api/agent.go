package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ows/internal/agent"
)

type AgentInput struct {
	SessionIDInput
	Body struct {
		Instruction string `json:"instruction" minLength:"1" doc:"What the map should show" example:"show Indian state boundaries as a PNG"`
	}
}

type AgentBody struct {
	agent.Result
	Trace []agent.Status `json:"trace" doc:"Status reports in order"`
}

// RegisterAgent registers the natural-language form driver.
func (h *APIHandler) RegisterAgent(api huma.API) {
	huma.Post(api, "/api/v1/sessions/{id}/agent", h.RunAgent, huma.OperationTags("agent"))
}

// RunAgent drives the session's form from an instruction and returns the
// submitted query. Status reports are also published on the session bus.
func (h *APIHandler) RunAgent(ctx context.Context, input *AgentInput) (*struct{ Body AgentBody }, error) {
	if h.svc.Completer == nil {
		return nil, huma.Error503ServiceUnavailable("no language model configured, set GEMINI_API_KEY")
	}
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}

	var trace []agent.Status
	bridge := agent.New(s, h.svc.Completer, h.svc.Agent)
	res, err := bridge.Run(ctx, input.Body.Instruction, func(st agent.Status) {
		trace = append(trace, st)
		s.PublishStatus(st.Message, st.Level)
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body AgentBody }{Body: AgentBody{Result: *res, Trace: trace}}, nil
}
