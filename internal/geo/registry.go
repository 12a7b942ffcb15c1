package geo

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// WGS84 is the geographic CRS every capabilities bounding box is stored in.
const WGS84 = "EPSG:4326"

// WebMercator is the spherical Mercator used by web map clients.
const WebMercator = "EPSG:3857"

const webMercatorProj4 = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs"

// edgeSamples is the number of segments each envelope edge is split into
// when transforming an extent.
const edgeSamples = 16

// Registry is the shared projection system: a set of CRS codes with their
// projections. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	projs map[string]Projection
	defs  map[string]string
}

// NewRegistry returns a registry with EPSG:4326 and EPSG:3857 pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		projs: map[string]Projection{},
		defs:  map[string]string{},
	}
	r.projs[WGS84] = longLat{}
	r.defs[WGS84] = "+proj=longlat +datum=WGS84 +no_defs"
	if err := r.Register(WebMercator, webMercatorProj4); err != nil {
		panic(err)
	}
	return r
}

// NormalizeCode upper-cases and trims a CRS code ("epsg:3857" -> "EPSG:3857").
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsKnown reports whether code has a registered projection.
func (r *Registry) IsKnown(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.projs[NormalizeCode(code)]
	return ok
}

// Register parses a proj4 definition and stores it under code.
// Re-registering a code replaces its definition.
func (r *Registry) Register(code, definition string) error {
	proj, err := ParseProj4(definition)
	if err != nil {
		return fmt.Errorf("register %s: %w", code, err)
	}
	code = NormalizeCode(code)

	r.mu.Lock()
	r.projs[code] = proj
	r.defs[code] = strings.TrimSpace(definition)
	r.mu.Unlock()
	return nil
}

// Definition returns the proj4 string registered for code.
func (r *Registry) Definition(code string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[NormalizeCode(code)]
	return d, ok
}

// Codes returns the registered codes.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.projs))
	for c := range r.projs {
		codes = append(codes, c)
	}
	return codes
}

func (r *Registry) lookup(code string) (Projection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projs[NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCRS, code)
	}
	return p, nil
}

// TransformExtent reprojects an envelope from one registered CRS to another.
// Each edge is densified before transforming so curved edges in the target
// system are covered by the resulting envelope.
func (r *Registry) TransformExtent(env Envelope, from, to string) (Envelope, error) {
	src, err := r.lookup(from)
	if err != nil {
		return Envelope{}, err
	}
	dst, err := r.lookup(to)
	if err != nil {
		return Envelope{}, err
	}
	env = env.Normalize()
	if NormalizeCode(from) == NormalizeCode(to) {
		return env, nil
	}

	out := Envelope{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, pt := range densify(env) {
		lon, lat, err := src.Inverse(pt[0], pt[1])
		if err != nil {
			return Envelope{}, fmt.Errorf("transform %s->%s: %w", from, to, err)
		}
		x, y, err := dst.Forward(lon, lat)
		if err != nil {
			return Envelope{}, fmt.Errorf("transform %s->%s: %w", from, to, err)
		}
		out.MinX = math.Min(out.MinX, x)
		out.MinY = math.Min(out.MinY, y)
		out.MaxX = math.Max(out.MaxX, x)
		out.MaxY = math.Max(out.MaxY, y)
	}
	if !out.IsValid() {
		return Envelope{}, fmt.Errorf("transform %s->%s: %w", from, to, ErrOutOfDomain)
	}
	return out, nil
}

// densify returns points along the four edges of env.
func densify(env Envelope) [][2]float64 {
	pts := make([][2]float64, 0, 4*edgeSamples)
	dx := (env.MaxX - env.MinX) / edgeSamples
	dy := (env.MaxY - env.MinY) / edgeSamples
	for i := 0; i < edgeSamples; i++ {
		fi := float64(i)
		pts = append(pts,
			[2]float64{env.MinX + fi*dx, env.MinY},
			[2]float64{env.MaxX, env.MinY + fi*dy},
			[2]float64{env.MaxX - fi*dx, env.MaxY},
			[2]float64{env.MinX, env.MaxY - fi*dy},
		)
	}
	return pts
}
