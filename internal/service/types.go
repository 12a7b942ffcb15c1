// Package service holds the stateful side of plat-ows: saved service
// endpoints, browser/agent sessions and their event buses.
package service

import (
	"github.com/joeblew999/plat-ows/internal/form"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/request"
)

// Endpoint is a saved OGC service base URL.
type Endpoint struct {
	ID   string          `json:"id,omitempty" doc:"Unique endpoint identifier" example:"local_geoserver_wms"`
	Name string          `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Local GeoServer WMS"`
	Kind ows.ServiceKind `json:"kind" required:"true" enum:"wms,wfs,sos" doc:"Service kind" example:"wms"`
	URL  string          `json:"url" required:"true" format:"uri" doc:"Service base URL" example:"http://localhost:8080/geoserver/wms"`
}

// TabState is a read-only view of one service tab.
type TabState struct {
	Kind       ows.ServiceKind          `json:"kind" doc:"Service kind"`
	Active     bool                     `json:"active" doc:"Whether this is the session's active tab"`
	ServiceURL string                   `json:"serviceUrl" doc:"Base URL capabilities are fetched from"`
	Loaded     bool                     `json:"loaded" doc:"Whether a catalog is loaded"`
	Error      string                   `json:"error,omitempty" doc:"Last capabilities fetch error"`
	Entries    int                      `json:"entries" doc:"Number of selectable entries"`
	Fields     []form.Field             `json:"fields" doc:"Form fields in display order"`
	Values     map[string]string        `json:"values" doc:"Current field values"`
	Options    map[string][]form.Option `json:"options" doc:"Select options per field"`
	BBoxState  string                   `json:"bboxState" enum:"empty,computed,overridden" doc:"Why the bounding box holds its values"`
	LastQuery  *request.Query           `json:"lastQuery,omitempty" doc:"Last submitted query"`
}
