package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	agentOK bool
}

func NewInfoHandler(dataDir string, dbOK, agentOK bool) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, agentOK: agentOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether database is available"`
	Agent    bool     `json:"agent" doc:"Whether a language model is configured"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"wms", "wfs", "sos"}
	if h.dbOK {
		features = append(features, "duckdb")
	}
	if h.agentOK {
		features = append(features, "agent")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-ows",
		Version:  "0.1.0",
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Agent:    h.agentOK,
		Features: features,
	}}, nil
}
