package ows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-ows/internal/fetch"
	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// Defaults used when a DescribeSensor document lacks a field.
const (
	NoDescription   = "No description available"
	LoadError       = "Error loading details"
	UnknownValue    = "Unknown"
	NoTimeInterval  = "N/A"
	sensorMLSubtype = `text/xml;subtype="sensorML/1.0.1"`
)

// DescribeSensorURL builds the per-sensor detail query.
func DescribeSensorURL(baseURL, procedure string) string {
	return JoinQuery(baseURL, fmt.Sprintf("service=SOS&version=1.0.0&request=DescribeSensor&procedure=%s&outputFormat=%s",
		procedure, sensorMLSubtype))
}

// Enrichment is the result of a completed enrichment pass.
type Enrichment struct {
	Entries []Entry
	Extent  *geo.Envelope
	Failed  int
}

// EnrichSensors fetches DescribeSensor details for each entry, strictly one
// at a time in catalog order. A failed entry gets default values and the
// pass continues. onDone, if set, is called exactly once after the last
// entry. The input slice is not modified.
func EnrichSensors(ctx context.Context, f fetch.Fetcher, baseURL string, entries []Entry, onDone func(Enrichment)) Enrichment {
	out := Enrichment{Entries: make([]Entry, len(entries))}
	var points []orb.Point

	for i := 0; i < len(entries); i++ {
		e := copyEntry(entries[i])

		body, err := f.Fetch(ctx, DescribeSensorURL(baseURL, e.ID))
		if err == nil {
			err = applySensorDetail(&e, body)
		}
		if err != nil {
			out.Failed++
			metrics.SensorEnrichments.WithLabelValues(metrics.OutcomeSoft).Inc()
			logging.Warn("Capabilities", "sensor %s: %v", e.ID, err)
			setSensorDefaults(&e, LoadError)
		} else {
			metrics.SensorEnrichments.WithLabelValues(metrics.OutcomeOK).Inc()
		}
		if e.Location != nil {
			points = append(points, *e.Location)
		}
		out.Entries[i] = e
	}

	if ext, ok := geo.ExtentOf(points); ok {
		out.Extent = &ext
	}
	logging.Info("Capabilities", "enriched %d sensors (%d failed)", len(entries), out.Failed)
	if onDone != nil {
		onDone(out)
	}
	return out
}

func copyEntry(e Entry) Entry {
	extra := make(map[string]string, len(e.Extra)+4)
	for k, v := range e.Extra {
		extra[k] = v
	}
	e.Extra = extra
	return e
}

func setSensorDefaults(e *Entry, description string) {
	e.Extra[ExtraDescription] = description
	e.Extra[ExtraObservedProperty] = UnknownValue
	e.Extra[ExtraTimeInterval] = NoTimeInterval
	e.Extra[ExtraSensorType] = UnknownValue
}

// applySensorDetail reads a SensorML document into e.
func applySensorDetail(e *Entry, raw []byte) error {
	root, err := readDocument(raw)
	if err != nil {
		return err
	}
	if root.Tag == "ExceptionReport" {
		return fmt.Errorf("%w: %s", ErrServiceException, text(firstDescendant(root, "ExceptionText")))
	}

	setSensorDefaults(e, NoDescription)
	if d := text(firstDescendant(root, "description")); d != "" {
		e.Extra[ExtraDescription] = d
	}

	if c := text(firstDescendant(root, "coordinates")); c != "" {
		parts := strings.Split(c, ",")
		if len(parts) >= 2 {
			if v, ok := parseFloats(parts[0], parts[1]); ok {
				pt := orb.Point{v[0], v[1]}
				e.Location = &pt
			}
		}
	}

	if q := firstDescendant(root, "Quantity"); q != nil {
		if def := attr(q, "definition"); def != "" {
			e.Extra[ExtraObservedProperty] = def
		}
	}
	if iv := text(firstDescendant(root, "interval")); iv != "" {
		e.Extra[ExtraTimeInterval] = iv
	}
	for _, c := range descendants(root, "classifier") {
		if attr(c, "name") == "Sensor Type" {
			if v := text(firstDescendant(c, "value")); v != "" {
				e.Extra[ExtraSensorType] = v
			}
			break
		}
	}
	return nil
}

// FilterSensors returns the entries whose location lies inside env.
// Entries without a location are excluded.
func FilterSensors(entries []Entry, env geo.Envelope) []Entry {
	out := []Entry{}
	env = env.Normalize()
	for _, e := range entries {
		if e.Location != nil && env.Contains(*e.Location) {
			out = append(out, e)
		}
	}
	return out
}

// TimeWindow is a sampling interval split into form field values,
// expressed in the service's zone.
type TimeWindow struct {
	StartDate string `json:"startdate"`
	StartTime string `json:"starttime"`
	EndDate   string `json:"enddate"`
	EndTime   string `json:"endtime"`
}

// DefaultTimeWindow is used when a sensor has no usable interval.
var DefaultTimeWindow = TimeWindow{StartTime: "00:00", EndTime: "23:59"}

var intervalLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string, zone *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range intervalLayouts {
		if t, err := time.ParseInLocation(layout, s, zone); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTimeWindow splits "<start> <end>" (ISO-8601, offsets as +hh:mm or
// +hhmm) into date and time fields in zone.
func ParseTimeWindow(interval string, zone *time.Location) (TimeWindow, bool) {
	parts := strings.Fields(interval)
	if len(parts) != 2 {
		return DefaultTimeWindow, false
	}
	start, ok1 := parseTimestamp(parts[0], zone)
	end, ok2 := parseTimestamp(parts[1], zone)
	if !ok1 || !ok2 {
		return DefaultTimeWindow, false
	}
	start, end = start.In(zone), end.In(zone)
	return TimeWindow{
		StartDate: start.Format(time.DateOnly),
		StartTime: start.Format(time.TimeOnly),
		EndDate:   end.Format(time.DateOnly),
		EndTime:   end.Format(time.TimeOnly),
	}, true
}
