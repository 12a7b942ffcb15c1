// Package overlay summarizes a WFS GeoJSON overlay response for the map:
// the extent to fit the view to and the style for each geometry type.
package overlay

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-ows/internal/geo"
)

// Kind is the closed set of overlay styles.
type Kind int

const (
	KindDefault Kind = iota
	KindPoint
	KindMultiPoint
	KindLine
	KindPolygon
	KindCollection
)

var kindNames = map[Kind]string{
	KindDefault:    "default",
	KindPoint:      "point",
	KindMultiPoint: "multipoint",
	KindLine:       "line",
	KindPolygon:    "polygon",
	KindCollection: "collection",
}

func (k Kind) String() string { return kindNames[k] }

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Style is how the map draws one kind of geometry.
type Style struct {
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Fill        string  `json:"fill,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
}

const (
	blue      = "rgb(68, 138, 255)"
	whiteFill = "rgba(255, 255, 255, 0.4)"
)

var styles = map[Kind]Style{
	KindPoint:      {Stroke: "#fff", StrokeWidth: 4, Fill: blue, Radius: 7},
	KindMultiPoint: {Stroke: "red", StrokeWidth: 1, Radius: 5},
	KindLine:       {Stroke: blue, StrokeWidth: 3},
	KindPolygon:    {Stroke: blue, StrokeWidth: 3, Fill: whiteFill},
	KindCollection: {Stroke: blue, StrokeWidth: 3, Fill: whiteFill, Radius: 5},
	KindDefault:    {Stroke: blue, StrokeWidth: 3, Fill: whiteFill},
}

// StyleOf returns the style for k.
func StyleOf(k Kind) Style { return styles[k] }

// Classify maps a geometry to its style kind.
func Classify(g orb.Geometry) Kind {
	switch g.(type) {
	case orb.Point:
		return KindPoint
	case orb.MultiPoint:
		return KindMultiPoint
	case orb.LineString, orb.MultiLineString:
		return KindLine
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return KindPolygon
	case orb.Collection:
		return KindCollection
	default:
		return KindDefault
	}
}

// ErrInvalidGeoJSON is returned when the overlay response is not a GeoJSON
// feature collection.
var ErrInvalidGeoJSON = errors.New("overlay is not valid GeoJSON")

// Summary describes an overlay response.
type Summary struct {
	Features int            `json:"features" doc:"Number of features"`
	Extent   *geo.Envelope  `json:"extent,omitempty" doc:"Extent of all geometries in the response CRS"`
	Counts   map[Kind]int   `json:"counts" doc:"Features per style kind"`
	Styles   map[Kind]Style `json:"styles" doc:"Style for each kind present"`
}

// Summarize parses a GeoJSON feature collection.
func Summarize(raw []byte) (*Summary, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeoJSON, err)
	}

	s := &Summary{
		Features: len(fc.Features),
		Counts:   map[Kind]int{},
		Styles:   map[Kind]Style{},
	}
	var bound orb.Bound
	seen := false
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		k := Classify(f.Geometry)
		s.Counts[k]++
		s.Styles[k] = styles[k]

		b := f.Geometry.Bound()
		if !seen {
			bound, seen = b, true
		} else {
			bound = bound.Union(b)
		}
	}
	if seen {
		env := geo.FromBound(bound)
		s.Extent = &env
	}
	return s, nil
}
