// Package ows parses OGC capability documents (WMS, WFS, SOS) into a uniform
// catalog of selectable entries, CRS options and output formats.
package ows

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/geo"
)

var (
	// ErrMalformedDocument is returned when a document cannot be parsed.
	ErrMalformedDocument = errors.New("malformed capabilities document")
	// ErrEmptySelector marks a missing schema node. It is soft: the catalog
	// returned alongside it is usable.
	ErrEmptySelector = errors.New("expected node not found")
	// ErrServiceException is wrapped when the server answered with an
	// exception report instead of a capabilities document.
	ErrServiceException = errors.New("service exception")
	// ErrUnknownKind is returned for service kinds other than wms, wfs, sos.
	ErrUnknownKind = errors.New("unknown service kind")
)

// ServiceKind identifies an OGC service type.
type ServiceKind string

const (
	KindWMS ServiceKind = "wms"
	KindWFS ServiceKind = "wfs"
	KindSOS ServiceKind = "sos"
)

// Kinds lists the supported kinds in tab order.
var Kinds = []ServiceKind{KindWMS, KindWFS, KindSOS}

// ParseKind accepts "wms", "WFS", etc.
func ParseKind(s string) (ServiceKind, error) {
	k := ServiceKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindWMS, KindWFS, KindSOS:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Upper returns "WMS", "WFS" or "SOS".
func (k ServiceKind) Upper() string {
	return strings.ToUpper(string(k))
}

// Extra attribute keys carried by SOS sensor entries.
const (
	ExtraDescription      = "description"
	ExtraObservedProperty = "observedProperty"
	ExtraTimeInterval     = "timeInterval"
	ExtraSensorType       = "sensorType"
	ExtraName             = "name"
)

// Entry is one selectable layer, feature type or sensor.
type Entry struct {
	ID          string            `json:"id" doc:"Service-native name or URI"`
	Label       string            `json:"label" doc:"Display title, falls back to id"`
	BoundingBox *geo.Envelope     `json:"boundingBox,omitempty" doc:"Geographic bounding box in EPSG:4326"`
	Location    *orb.Point        `json:"location,omitempty" doc:"Sensor position as [lon, lat]"`
	Extra       map[string]string `json:"extra,omitempty" doc:"Service-specific attributes"`
}

// ExtraValue returns Extra[key] or "".
func (e Entry) ExtraValue(key string) string {
	if e.Extra == nil {
		return ""
	}
	return e.Extra[key]
}

// Catalog is the parsed form of one capabilities document. It is rebuilt on
// every fetch and never merged.
type Catalog struct {
	Kind    ServiceKind      `json:"kind" doc:"Service kind"`
	Entries []Entry          `json:"entries" doc:"Selectable entries in document order"`
	CRS     []crs.Descriptor `json:"crs" doc:"Available CRS options"`
	Formats []string         `json:"formats" doc:"Available output formats"`
	Extent  *geo.Envelope    `json:"extent,omitempty" doc:"Union of sensor locations (SOS)"`
}

// Entry looks up an entry by id.
func (c *Catalog) Entry(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	for _, e := range c.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// dedupe keeps the first entry for each id.
func dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
