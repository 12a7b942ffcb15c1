package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedProjection is returned for proj4 definitions this
	// package cannot evaluate.
	ErrUnsupportedProjection = errors.New("unsupported projection")
	// ErrUnknownCRS is returned when a transform references an unregistered code.
	ErrUnknownCRS = errors.New("unknown CRS")
	// ErrOutOfDomain is returned when a coordinate cannot be projected.
	ErrOutOfDomain = errors.New("coordinate outside projection domain")
)

// Projection converts between geographic degrees and projected units.
type Projection interface {
	Forward(lon, lat float64) (x, y float64, err error)
	Inverse(x, y float64) (lon, lat float64, err error)
	Name() string
}

const (
	wgs84A  = 6378137.0
	wgs84Rf = 298.257223563
	grs80Rf = 298.257222101

	// Latitude limit of square Web Mercator.
	mercatorMaxLat = 85.05112877980659
)

// ellipsoid is described by its semi-major axis and eccentricity.
type ellipsoid struct {
	a float64
	e float64
}

func (el ellipsoid) spherical() bool { return el.e == 0 }

// params holds the parsed "+key=value" pairs of a proj4 string.
type params map[string]string

func parseParams(def string) params {
	p := params{}
	for _, tok := range strings.Fields(def) {
		tok = strings.TrimPrefix(tok, "+")
		if tok == "" {
			continue
		}
		key, val, _ := strings.Cut(tok, "=")
		p[strings.ToLower(key)] = val
	}
	return p
}

func (p params) float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid +%s=%q: %w", key, v, err)
	}
	return f, nil
}

func (p params) ellipsoid() (ellipsoid, error) {
	a, err := p.float("a", wgs84A)
	if err != nil {
		return ellipsoid{}, err
	}
	rf := wgs84Rf
	if p["ellps"] == "GRS80" {
		rf = grs80Rf
	}
	if _, ok := p["rf"]; ok {
		if rf, err = p.float("rf", rf); err != nil {
			return ellipsoid{}, err
		}
	}
	if _, ok := p["b"]; ok {
		b, err := p.float("b", a)
		if err != nil {
			return ellipsoid{}, err
		}
		if b == a {
			return ellipsoid{a: a}, nil
		}
		return ellipsoid{a: a, e: math.Sqrt(1 - (b*b)/(a*a))}, nil
	}
	if _, ok := p["r"]; ok {
		r, err := p.float("r", a)
		return ellipsoid{a: r}, err
	}
	if p["ellps"] == "sphere" {
		return ellipsoid{a: 6370997.0}, nil
	}
	f := 1 / rf
	return ellipsoid{a: a, e: math.Sqrt(2*f - f*f)}, nil
}

// ParseProj4 builds a Projection from a proj4 definition string.
// Supported: longlat (and latlong), merc, eqc and moll.
func ParseProj4(def string) (Projection, error) {
	p := parseParams(def)
	name := p["proj"]

	lon0, err := p.float("lon_0", 0)
	if err != nil {
		return nil, err
	}
	x0, err := p.float("x_0", 0)
	if err != nil {
		return nil, err
	}
	y0, err := p.float("y_0", 0)
	if err != nil {
		return nil, err
	}
	el, err := p.ellipsoid()
	if err != nil {
		return nil, err
	}

	switch name {
	case "longlat", "latlong", "lonlat", "latlon":
		return longLat{}, nil

	case "merc":
		k0, err := p.float("k", 1)
		if err != nil {
			return nil, err
		}
		if _, ok := p["k_0"]; ok {
			if k0, err = p.float("k_0", 1); err != nil {
				return nil, err
			}
		}
		if _, ok := p["lat_ts"]; ok {
			latTS, err := p.float("lat_ts", 0)
			if err != nil {
				return nil, err
			}
			phi := latTS * math.Pi / 180
			s := math.Sin(phi)
			k0 = math.Cos(phi) / math.Sqrt(1-el.e*el.e*s*s)
		}
		return mercator{el: el, k0: k0, lon0: lon0, x0: x0, y0: y0}, nil

	case "eqc":
		latTS, err := p.float("lat_ts", 0)
		if err != nil {
			return nil, err
		}
		lat0, err := p.float("lat_0", 0)
		if err != nil {
			return nil, err
		}
		return equirectangular{a: el.a, latTS: latTS, lat0: lat0, lon0: lon0, x0: x0, y0: y0}, nil

	case "moll":
		return mollweide{a: el.a, lon0: lon0, x0: x0, y0: y0}, nil

	case "":
		return nil, fmt.Errorf("%w: missing +proj in %q", ErrUnsupportedProjection, def)
	default:
		return nil, fmt.Errorf("%w: +proj=%s", ErrUnsupportedProjection, name)
	}
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

// longLat is the identity projection for geographic coordinates.
type longLat struct{}

func (longLat) Name() string { return "longlat" }

func (longLat) Forward(lon, lat float64) (float64, float64, error) { return lon, lat, nil }

func (longLat) Inverse(x, y float64) (float64, float64, error) { return x, y, nil }

// mercator covers both the spherical (EPSG:3857) and ellipsoidal
// (EPSG:3395) variants.
type mercator struct {
	el     ellipsoid
	k0     float64
	lon0   float64
	x0, y0 float64
}

func (mercator) Name() string { return "merc" }

func (m mercator) Forward(lon, lat float64) (float64, float64, error) {
	lat = clampFloat(lat, -mercatorMaxLat, mercatorMaxLat)
	phi := rad(lat)
	x := m.x0 + m.el.a*m.k0*rad(lon-m.lon0)
	ts := math.Tan(math.Pi/4 + phi/2)
	if !m.el.spherical() {
		es := m.el.e * math.Sin(phi)
		ts *= math.Pow((1-es)/(1+es), m.el.e/2)
	}
	y := m.y0 + m.el.a*m.k0*math.Log(ts)
	return x, y, nil
}

func (m mercator) Inverse(x, y float64) (float64, float64, error) {
	lon := m.lon0 + deg((x-m.x0)/(m.el.a*m.k0))
	t := math.Exp(-(y - m.y0) / (m.el.a * m.k0))
	phi := math.Pi/2 - 2*math.Atan(t)
	if !m.el.spherical() {
		for i := 0; i < 15; i++ {
			es := m.el.e * math.Sin(phi)
			next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), m.el.e/2))
			if math.Abs(next-phi) < 1e-12 {
				phi = next
				break
			}
			phi = next
		}
	}
	return lon, deg(phi), nil
}

// equirectangular is the plate carree family (EPSG:4087, EPSG:32662).
type equirectangular struct {
	a           float64
	latTS, lat0 float64
	lon0        float64
	x0, y0      float64
}

func (equirectangular) Name() string { return "eqc" }

func (q equirectangular) Forward(lon, lat float64) (float64, float64, error) {
	x := q.x0 + q.a*rad(lon-q.lon0)*math.Cos(rad(q.latTS))
	y := q.y0 + q.a*rad(lat-q.lat0)
	return x, y, nil
}

func (q equirectangular) Inverse(x, y float64) (float64, float64, error) {
	c := math.Cos(rad(q.latTS))
	if c == 0 {
		return 0, 0, fmt.Errorf("%w: eqc with lat_ts=%v", ErrOutOfDomain, q.latTS)
	}
	lon := q.lon0 + deg((x-q.x0)/(q.a*c))
	lat := q.lat0 + deg((y-q.y0)/q.a)
	return lon, lat, nil
}

// mollweide is the spherical equal-area projection (ESRI:54009).
type mollweide struct {
	a      float64
	lon0   float64
	x0, y0 float64
}

func (mollweide) Name() string { return "moll" }

func (m mollweide) Forward(lon, lat float64) (float64, float64, error) {
	phi := rad(lat)
	theta := phi
	target := math.Pi * math.Sin(phi)
	if math.Abs(math.Abs(phi)-math.Pi/2) >= 1e-12 {
		// Newton iteration on 2t + sin 2t = pi sin phi, in terms of t2 = 2t.
		t2 := 2 * math.Asin(2*phi/math.Pi)
		for i := 0; i < 100; i++ {
			delta := (t2 + math.Sin(t2) - target) / (1 + math.Cos(t2))
			t2 -= delta
			if math.Abs(delta) < 1e-12 {
				break
			}
		}
		theta = t2 / 2
	}
	x := m.x0 + m.a*2*math.Sqrt2/math.Pi*rad(lon-m.lon0)*math.Cos(theta)
	y := m.y0 + m.a*math.Sqrt2*math.Sin(theta)
	return x, y, nil
}

func (m mollweide) Inverse(x, y float64) (float64, float64, error) {
	s := (y - m.y0) / (m.a * math.Sqrt2)
	if math.Abs(s) > 1 {
		return 0, 0, fmt.Errorf("%w: moll y=%v", ErrOutOfDomain, y)
	}
	theta := math.Asin(s)
	lat := deg(math.Asin(clampFloat((2*theta+math.Sin(2*theta))/math.Pi, -1, 1)))
	c := math.Cos(theta)
	if c == 0 {
		return m.lon0, lat, nil
	}
	lon := m.lon0 + deg(math.Pi*(x-m.x0)/(2*math.Sqrt2*m.a*c))
	return lon, lat, nil
}
