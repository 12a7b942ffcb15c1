// Package request turns a tab's form selection into validated outbound
// GetMap, GetFeature and GetObservation queries.
package request

import (
	"fmt"
	"strings"

	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/ows"
)

// BBoxFields holds the four bounding-box inputs; nil means the field is blank.
type BBoxFields struct {
	MinX *float64 `json:"minx,omitempty"`
	MinY *float64 `json:"miny,omitempty"`
	MaxX *float64 `json:"maxx,omitempty"`
	MaxY *float64 `json:"maxy,omitempty"`
}

// NewBBoxFields fills all four fields from env.
func NewBBoxFields(env geo.Envelope) BBoxFields {
	minX, minY, maxX, maxY := env.MinX, env.MinY, env.MaxX, env.MaxY
	return BBoxFields{MinX: &minX, MinY: &minY, MaxX: &maxX, MaxY: &maxY}
}

// Full reports whether all four fields are set.
func (b BBoxFields) Full() bool {
	return b.MinX != nil && b.MinY != nil && b.MaxX != nil && b.MaxY != nil
}

// Any reports whether at least one field is set.
func (b BBoxFields) Any() bool {
	return b.MinX != nil || b.MinY != nil || b.MaxX != nil || b.MaxY != nil
}

// Envelope returns the fields as an envelope. Only meaningful when Full.
func (b BBoxFields) Envelope() (geo.Envelope, bool) {
	if !b.Full() {
		return geo.Envelope{}, false
	}
	return geo.Envelope{MinX: *b.MinX, MinY: *b.MinY, MaxX: *b.MaxX, MaxY: *b.MaxY}, true
}

// Selection is the current state of one service tab's form.
type Selection struct {
	Entry     string     `json:"entry,omitempty"`
	CRS       string     `json:"crs,omitempty"`
	Format    string     `json:"format,omitempty"`
	BBox      BBoxFields `json:"bbox"`
	Width     *int       `json:"width,omitempty"`
	Height    *int       `json:"height,omitempty"`
	FeatureID string     `json:"featureId,omitempty"`

	// SOS
	ObservedProperty string `json:"observedProperty,omitempty"`
	StartDate        string `json:"startDate,omitempty"`
	StartTime        string `json:"startTime,omitempty"`
	EndDate          string `json:"endDate,omitempty"`
	EndTime          string `json:"endTime,omitempty"`
}

// ValidationError reports missing or conflicting form fields.
type ValidationError struct {
	Kind     ows.ServiceKind
	Missing  []string
	Conflict []string
	Reason   string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Conflict) > 0 {
		parts = append(parts, "conflicting "+strings.Join(e.Conflict, ", "))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	return fmt.Sprintf("%s request invalid: %s", e.Kind.Upper(), strings.Join(parts, "; "))
}

func (e *ValidationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Conflict) == 0 && e.Reason == ""
}
