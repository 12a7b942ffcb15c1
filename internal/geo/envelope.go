// Package geo holds the envelope type and the in-process projection system
// used to reproject bounding boxes between coordinate reference systems.
package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Geographic limits for EPSG:4326-like systems.
const (
	MinLon = -180.0
	MaxLon = 180.0
	MinLat = -90.0
	MaxLat = 90.0
)

// Envelope is an axis-aligned rectangle. The CRS it is expressed in is carried
// alongside it by the owner.
type Envelope struct {
	MinX float64 `json:"minx" doc:"Minimum X (west / min easting)"`
	MinY float64 `json:"miny" doc:"Minimum Y (south / min northing)"`
	MaxX float64 `json:"maxx" doc:"Maximum X (east / max easting)"`
	MaxY float64 `json:"maxy" doc:"Maximum Y (north / max northing)"`
}

// Normalize swaps inverted axes so that MinX <= MaxX and MinY <= MaxY.
func (e Envelope) Normalize() Envelope {
	if e.MinX > e.MaxX {
		e.MinX, e.MaxX = e.MaxX, e.MinX
	}
	if e.MinY > e.MaxY {
		e.MinY, e.MaxY = e.MaxY, e.MinY
	}
	return e
}

// Clamp limits the envelope to [-180,180]x[-90,90]. The result is always
// normalized, and clamping a clamped envelope returns it unchanged.
func (e Envelope) Clamp() Envelope {
	e = e.Normalize()
	e.MinX = clampFloat(e.MinX, MinLon, MaxLon)
	e.MaxX = clampFloat(e.MaxX, MinLon, MaxLon)
	e.MinY = clampFloat(e.MinY, MinLat, MaxLat)
	e.MaxY = clampFloat(e.MaxY, MinLat, MaxLat)
	return e
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// IsValid reports whether all four values are finite and the axes are ordered.
func (e Envelope) IsValid() bool {
	for _, v := range e.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Values returns minx, miny, maxx, maxy in that order.
func (e Envelope) Values() [4]float64 {
	return [4]float64{e.MinX, e.MinY, e.MaxX, e.MaxY}
}

// String formats the envelope as "minx,miny,maxx,maxy".
func (e Envelope) String() string {
	parts := make([]string, 0, 4)
	for _, v := range e.Values() {
		parts = append(parts, FormatFloat(v))
	}
	return strings.Join(parts, ",")
}

// FormatFloat renders a coordinate with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Bound converts to an orb.Bound.
func (e Envelope) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

// FromBound converts an orb.Bound.
func FromBound(b orb.Bound) Envelope {
	return Envelope{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// Contains reports whether p lies inside or on the edge of the envelope.
func (e Envelope) Contains(p orb.Point) bool {
	return e.Bound().Contains(p)
}

// ExtentOf returns the smallest envelope covering all points.
func ExtentOf(points []orb.Point) (Envelope, bool) {
	if len(points) == 0 {
		return Envelope{}, false
	}
	b := points[0].Bound()
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return FromBound(b), true
}
