package request

import (
	"strconv"
	"strings"
	"time"

	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/internal/ows"
)

// Defaults for the SOS service.
const (
	DefaultOffering  = "temporary"
	DefaultUTCOffset = 5*time.Hour + 30*time.Minute

	// OverlayWMSFormat is the high-fidelity format fetched for map overlay.
	OverlayWMSFormat = "image/tiff"
	// OverlayWFSFormat is the format fetched for map overlay.
	OverlayWFSFormat = "application/json"

	utcLayout = "2006-01-02T15:04:05Z"
)

// Query is a built outbound request. Primary and Overlay are query strings
// without the service base URL.
type Query struct {
	Kind    ows.ServiceKind `json:"kind" doc:"Service kind"`
	Primary string          `json:"primary" doc:"Query in the requested output format"`
	Overlay string          `json:"overlay,omitempty" doc:"Parallel query for map overlay"`
}

// URLs joins both queries onto a service base URL.
func (q Query) URLs(base string) (primary, overlay string) {
	primary = ows.JoinQuery(base, q.Primary)
	if q.Overlay != "" {
		overlay = ows.JoinQuery(base, q.Overlay)
	}
	return primary, overlay
}

// Config configures a Builder.
type Config struct {
	// UTCOffset is the service's zone offset; local wall-clock input minus
	// this offset gives UTC.
	UTCOffset time.Duration
	Offering  string
}

// Builder validates selections and renders queries. It holds no state
// beyond its configuration.
type Builder struct {
	offset   time.Duration
	offering string
}

// NewBuilder creates a builder. An empty offering uses DefaultOffering.
func NewBuilder(cfg Config) *Builder {
	b := &Builder{offset: cfg.UTCOffset, offering: cfg.Offering}
	if b.offering == "" {
		b.offering = DefaultOffering
	}
	return b
}

// Zone returns the service's fixed time zone.
func (b *Builder) Zone() *time.Location {
	return time.FixedZone("service", int(b.offset/time.Second))
}

// Build validates sel for kind and renders the outbound query.
func (b *Builder) Build(kind ows.ServiceKind, sel Selection) (Query, error) {
	var (
		q   Query
		err error
	)
	switch kind {
	case ows.KindWMS:
		q, err = b.buildWMS(sel)
	case ows.KindWFS:
		q, err = b.buildWFS(sel)
	case ows.KindSOS:
		q, err = b.buildSOS(sel)
	default:
		err = &ValidationError{Kind: kind, Reason: "unknown service kind"}
	}
	if err != nil {
		metrics.QueriesBuilt.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		return Query{}, err
	}
	metrics.QueriesBuilt.WithLabelValues(string(kind), metrics.OutcomeOK).Inc()
	return q, nil
}

func (b *Builder) buildWMS(sel Selection) (Query, error) {
	verr := &ValidationError{Kind: ows.KindWMS}
	requireString(verr, "layer", sel.Entry)
	requireString(verr, "crs", sel.CRS)
	requireString(verr, "format", sel.Format)
	requireBBox(verr, sel.BBox)
	checkBBox(verr, sel.BBox)
	if sel.Width == nil || *sel.Width <= 0 {
		verr.Missing = append(verr.Missing, "width")
	}
	if sel.Height == nil || *sel.Height <= 0 {
		verr.Missing = append(verr.Missing, "height")
	}
	if !verr.empty() {
		return Query{}, verr
	}

	env, _ := sel.BBox.Envelope()
	common := "service=WMS&version=1.1.1&request=GetMap" +
		"&layers=" + escape(sel.Entry) +
		"&styles=" +
		"&bbox=" + env.String() +
		"&width=" + strconv.Itoa(*sel.Width) +
		"&height=" + strconv.Itoa(*sel.Height) +
		"&crs=" + escape(sel.CRS)

	return Query{
		Kind:    ows.KindWMS,
		Primary: common + "&format=" + escape(sel.Format),
		Overlay: common + "&format=" + OverlayWMSFormat,
	}, nil
}

// buildWFS requires exactly one of a full bounding box or a feature id.
// A partially filled box reports its blank fields as missing.
func (b *Builder) buildWFS(sel Selection) (Query, error) {
	verr := &ValidationError{Kind: ows.KindWFS}
	requireString(verr, "layer", sel.Entry)
	requireString(verr, "crs", sel.CRS)
	requireString(verr, "format", sel.Format)

	hasBBox := sel.BBox.Any()
	hasFID := strings.TrimSpace(sel.FeatureID) != ""
	switch {
	case hasBBox && hasFID:
		verr.Conflict = append(verr.Conflict, "bbox", "featureid")
		verr.Reason = "fill only one of bounding box or feature id"
	case !hasBBox && !hasFID:
		verr.Missing = append(verr.Missing, "bbox or featureid")
	case hasBBox && !sel.BBox.Full():
		requireBBox(verr, sel.BBox)
	case hasBBox:
		checkBBox(verr, sel.BBox)
	}
	if !verr.empty() {
		return Query{}, verr
	}

	head := "service=WFS&version=2.0.0&request=GetFeature&typeNames=" + escape(sel.Entry)
	crs := "&crs=" + escape(sel.CRS)

	var filter string
	if hasBBox {
		env, _ := sel.BBox.Envelope()
		filter = "&bbox=" + env.String() + "," + escape(sel.CRS)
	} else {
		filter = "&featureID=" + escape(ows.ShortName(sel.Entry)) + "." + escape(strings.TrimSpace(sel.FeatureID))
	}

	return Query{
		Kind:    ows.KindWFS,
		Primary: head + "&outputFormat=" + escape(sel.Format) + crs + filter,
		Overlay: head + "&outputFormat=" + OverlayWFSFormat + crs + filter,
	}, nil
}

func (b *Builder) buildSOS(sel Selection) (Query, error) {
	verr := &ValidationError{Kind: ows.KindSOS}
	requireString(verr, "sensor", sel.Entry)
	if sel.ObservedProperty == "" || sel.ObservedProperty == ows.UnknownValue {
		verr.Missing = append(verr.Missing, "observedProperty")
	}
	requireString(verr, "startdate", sel.StartDate)
	requireString(verr, "starttime", sel.StartTime)
	requireString(verr, "enddate", sel.EndDate)
	requireString(verr, "endtime", sel.EndTime)
	if !verr.empty() {
		return Query{}, verr
	}

	start, err := b.ToUTC(sel.StartDate, sel.StartTime)
	if err != nil {
		verr.Reason = "invalid start: " + err.Error()
		return Query{}, verr
	}
	end, err := b.ToUTC(sel.EndDate, sel.EndTime)
	if err != nil {
		verr.Reason = "invalid end: " + err.Error()
		return Query{}, verr
	}
	if end.Before(start) {
		verr.Conflict = append(verr.Conflict, "start", "end")
		verr.Reason = "end is before start"
		return Query{}, verr
	}

	q := "request=GetObservation&service=SOS&version=1.0.0" +
		"&offering=" + escape(b.offering) +
		"&procedure=" + escape(ows.ShortName(sel.Entry)) +
		"&eventTime=" + start.Format(utcLayout) + "/" + end.Format(utcLayout) +
		"&observedProperty=" + escape(sel.ObservedProperty) +
		"&responseFormat=text/xml"
	return Query{Kind: ows.KindSOS, Primary: q}, nil
}

// ToUTC converts a service-local date and time ("15:04" or "15:04:05") to UTC.
func (b *Builder) ToUTC(date, clock string) (time.Time, error) {
	layout := "2006-01-02T15:04"
	if strings.Count(clock, ":") == 2 {
		layout = "2006-01-02T15:04:05"
	}
	wall, err := time.Parse(layout, strings.TrimSpace(date)+"T"+strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, err
	}
	return wall.Add(-b.offset).UTC(), nil
}

func requireString(verr *ValidationError, field, v string) {
	if strings.TrimSpace(v) == "" {
		verr.Missing = append(verr.Missing, field)
	}
}

func requireBBox(verr *ValidationError, b BBoxFields) {
	for _, f := range []struct {
		name string
		v    *float64
	}{{"minx", b.MinX}, {"miny", b.MinY}, {"maxx", b.MaxX}, {"maxy", b.MaxY}} {
		if f.v == nil {
			verr.Missing = append(verr.Missing, f.name)
		}
	}
}

// checkBBox rejects a full box that is not finite or has min above max.
func checkBBox(verr *ValidationError, b BBoxFields) {
	if env, ok := b.Envelope(); ok && !env.IsValid() {
		verr.Conflict = append(verr.Conflict, "bbox")
		verr.Reason = "bbox min exceeds max or is not finite"
	}
}

// escaper encodes only the characters that would break the query structure;
// URNs, slashes, colons and commas stay readable.
var escaper = strings.NewReplacer(
	"%", "%25",
	" ", "%20",
	"&", "%26",
	"#", "%23",
	"+", "%2B",
)

func escape(s string) string {
	return escaper.Replace(s)
}
