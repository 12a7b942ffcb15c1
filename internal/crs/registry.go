// Package crs resolves CRS codes on demand and reprojects envelopes between them.
//
// Definitions for codes the projection system does not know are looked up
// once per process from an external definition service (epsg.io by default)
// and registered permanently; the cache is never invalidated.
package crs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-ows/internal/fetch"
	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// DefaultLookupURL is a fmt template taking the numeric part of an EPSG code.
const DefaultLookupURL = "https://epsg.io/%s.proj4"

// ErrLookupFailed is returned when the external definition lookup fails.
var ErrLookupFailed = errors.New("CRS lookup failed")

// Descriptor describes a selectable CRS.
type Descriptor struct {
	Code         string `json:"code" doc:"CRS code" example:"EPSG:3857"`
	DisplayName  string `json:"displayName" doc:"Human-readable name" example:"Web Mercator"`
	IsRegistered bool   `json:"isRegistered" doc:"Whether the projection definition is loaded"`
}

// builtin is the fixed CRS option list offered for WMS and WFS.
var builtin = []Descriptor{
	{Code: "EPSG:4326", DisplayName: "WGS 84 (Lat/Lon)"},
	{Code: "EPSG:3857", DisplayName: "Web Mercator"},
	{Code: "EPSG:3395", DisplayName: "World Mercator"},
	{Code: "EPSG:54009", DisplayName: "Mollweide"},
	{Code: "EPSG:4087", DisplayName: "NSIDC EASE-Grid 2.0"},
	{Code: "EPSG:32662", DisplayName: "WGS 84 / World Equidistant Cylindrical"},
}

// Registry wraps the shared projection system with lazy registration.
// One Registry is shared by every session of a process.
type Registry struct {
	proj      *geo.Registry
	fetcher   fetch.Fetcher
	lookupURL string
	group     singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLookupURL overrides the definition service URL template.
func WithLookupURL(tmpl string) Option {
	return func(r *Registry) {
		if tmpl != "" {
			r.lookupURL = tmpl
		}
	}
}

// WithProjections uses an existing projection system.
func WithProjections(p *geo.Registry) Option {
	return func(r *Registry) { r.proj = p }
}

// New creates a registry backed by f for definition lookups.
func New(f fetch.Fetcher, opts ...Option) *Registry {
	r := &Registry{
		proj:      geo.NewRegistry(),
		fetcher:   f,
		lookupURL: DefaultLookupURL,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Builtin returns the fixed CRS list with current registration status.
func (r *Registry) Builtin() []Descriptor {
	out := make([]Descriptor, len(builtin))
	for i, d := range builtin {
		d.IsRegistered = r.IsRegistered(d.Code)
		out[i] = d
	}
	return out
}

// IsRegistered reports whether code is known to the projection system.
func (r *Registry) IsRegistered(code string) bool {
	return r.proj.IsKnown(code)
}

// Projections exposes the underlying projection system.
func (r *Registry) Projections() *geo.Registry {
	return r.proj
}

// EnsureRegistered registers code if it is not yet known. Concurrent callers
// for the same code share one lookup. Failures are not cached.
func (r *Registry) EnsureRegistered(ctx context.Context, code string) error {
	code = geo.NormalizeCode(code)
	if r.proj.IsKnown(code) {
		return nil
	}

	_, err, _ := r.group.Do(code, func() (any, error) {
		if r.proj.IsKnown(code) {
			return nil, nil
		}
		return nil, r.register(ctx, code)
	})
	return err
}

func (r *Registry) register(ctx context.Context, code string) error {
	num := numericPart(code)
	if num == "" {
		metrics.CRSLookups.WithLabelValues(metrics.OutcomeError).Inc()
		return fmt.Errorf("%w: %s has no numeric part", ErrLookupFailed, code)
	}

	url := fmt.Sprintf(r.lookupURL, num)
	body, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		metrics.CRSLookups.WithLabelValues(metrics.OutcomeError).Inc()
		logging.Error("CRS", err, "definition lookup failed for %s", code)
		return fmt.Errorf("%w: %s: %w", ErrLookupFailed, code, err)
	}

	def := strings.TrimSpace(string(body))
	if def == "" {
		metrics.CRSLookups.WithLabelValues(metrics.OutcomeError).Inc()
		return fmt.Errorf("%w: %s: empty definition", ErrLookupFailed, code)
	}
	if err := r.proj.Register(code, def); err != nil {
		metrics.CRSLookups.WithLabelValues(metrics.OutcomeError).Inc()
		logging.Error("CRS", err, "cannot register %s", code)
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	metrics.CRSLookups.WithLabelValues(metrics.OutcomeOK).Inc()
	logging.Info("CRS", "registered %s (%s)", code, def)
	return nil
}

// Reproject transforms env from one CRS to another, registering the target
// first if needed.
func (r *Registry) Reproject(ctx context.Context, env geo.Envelope, from, to string) (geo.Envelope, error) {
	if err := r.EnsureRegistered(ctx, from); err != nil {
		return geo.Envelope{}, err
	}
	if err := r.EnsureRegistered(ctx, to); err != nil {
		return geo.Envelope{}, err
	}
	return r.proj.TransformExtent(env, from, to)
}

// numericPart returns "3857" for "EPSG:3857".
func numericPart(code string) string {
	if i := strings.LastIndex(code, ":"); i >= 0 {
		code = code[i+1:]
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return code
}
