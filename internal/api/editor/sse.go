// Package editor contains Datastar SSE handlers for the service form UI.
//
// Signals are grouped per tab: the WMS form binds $wms.layer, $wms.crs and
// so on, and every handler answers with the tab's full value set so the
// browser never computes form state itself.
package editor

import (
	"fmt"

	"github.com/joeblew999/plat-ows/internal/humastar"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/service"
)

// StatusData is the data for the status fragment.
type StatusData struct {
	ID      string
	Level   string
	Message string
}

func selectID(kind ows.ServiceKind, field string) string {
	return fmt.Sprintf("#%s-%s", kind, field)
}

func valueSignals(kind ows.ServiceKind, values map[string]string, bboxState string) map[string]any {
	group := make(map[string]any, len(values)+1)
	for k, v := range values {
		group[k] = v
	}
	group["_bbox"] = bboxState
	return map[string]any{string(kind): group}
}

// patchTab pushes a tab's select options and values.
func patchTab(h *humastar.Handler, sse humastar.SSE, st service.TabState) {
	for name, opts := range st.Options {
		data := make([]humastar.SelectOptionData, 0, len(opts))
		for _, o := range opts {
			data = append(data, humastar.SelectOptionData{
				Value:    o.Value,
				Label:    o.Label,
				Disabled: o.Disabled,
				Selected: o.Value == st.Values[name],
			})
		}
		sse.Patch(h.RenderSelect(data), selectID(st.Kind, name))
	}
	signals := valueSignals(st.Kind, st.Values, st.BBoxState)
	signals[string(st.Kind)+"Loaded"] = st.Loaded
	signals[string(st.Kind)+"Entries"] = st.Entries
	sse.Signals(signals)
}

func patchStatus(h *humastar.Handler, sse humastar.SSE, id, message, level string) {
	html := h.Renderer.MustRender("status", StatusData{ID: id, Level: level, Message: message})
	sse.Replace(html, "#"+id)
}
