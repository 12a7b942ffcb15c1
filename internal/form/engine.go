package form

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/request"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// Change reports the field values touched by one Set call, including the
// dependent values it recomputed.
type Change struct {
	Field     string            `json:"field"`
	Values    map[string]string `json:"values"`
	BBoxState string            `json:"bboxState"`
}

// ContextField is one field of an agent context snapshot.
type ContextField struct {
	Description string          `json:"description"`
	Options     []ContextOption `json:"options,omitempty"`
}

// ContextOption is a selectable value in a context snapshot.
type ContextOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Context maps field names to their description and resolved options. It
// never contains raw document content.
type Context map[string]ContextField

// Engine holds one tab's catalog, options and values. It is not safe for
// concurrent use; the owning session serializes access.
type Engine struct {
	kind    ows.ServiceKind
	fields  []Field
	zone    *time.Location
	catalog *ows.Catalog
	options map[string][]Option
	values  map[string]string
	bbox    *BBoxController

	loaded  bool
	loadErr error
}

// NewEngine creates an empty engine for kind. zone is the service time zone
// used to pre-fill SOS time windows.
func NewEngine(kind ows.ServiceKind, r Reprojector, zone *time.Location) *Engine {
	if zone == nil {
		zone = time.UTC
	}
	e := &Engine{
		kind:   kind,
		fields: FieldsFor(kind),
		zone:   zone,
		bbox:   NewBBoxController(r),
	}
	e.Clear()
	return e
}

func (e *Engine) Kind() ows.ServiceKind { return e.kind }
func (e *Engine) Fields() []Field { return e.fields }
func (e *Engine) Catalog() *ows.Catalog { return e.catalog }
func (e *Engine) BBox() *BBoxController { return e.bbox }
func (e *Engine) Options(name string) []Option { return e.options[name] }

func (e *Engine) field(name string) (Field, bool) {
	for _, f := range e.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Clear empties every option list and value. The entry field has no options
// at all until the next Load, which is what Populated waits for.
func (e *Engine) Clear() {
	e.catalog = nil
	e.options = make(map[string][]Option)
	e.values = make(map[string]string)
	e.bbox.Reset()
	e.loaded = false
	e.loadErr = nil
}

// Fail records a failed capabilities fetch.
func (e *Engine) Fail(err error) {
	e.loadErr = err
}

// Populated reports whether a catalog has been loaded since the last Clear,
// or the error that prevented it.
func (e *Engine) Populated() (bool, error) {
	return e.loaded, e.loadErr
}

// Load replaces the catalog and rebuilds every option list with nothing
// selected. Values and the bounding box are reset.
func (e *Engine) Load(cat *ows.Catalog) {
	if cat == nil {
		cat = &ows.Catalog{Kind: e.kind}
	}
	e.Clear()
	e.catalog = cat
	for _, f := range e.fields {
		if f.Input != InputSelect {
			continue
		}
		e.options[f.Name] = e.buildOptions(f, cat)
	}
	e.loaded = true
	logging.Info("Form", "%s form loaded: %d entries, %d CRS, %d formats",
		e.kind.Upper(), len(cat.Entries), len(cat.CRS), len(cat.Formats))
}

func (e *Engine) buildOptions(f Field, cat *ows.Catalog) []Option {
	opts := []Option{placeholder(f.Placeholder)}
	switch f.Source {
	case SourceEntries:
		for _, en := range cat.Entries {
			opts = append(opts, entryOption(en))
		}
	case SourceCRS:
		for _, c := range cat.CRS {
			opts = append(opts, Option{Value: c.Code, Label: c.Code + " - " + c.DisplayName})
		}
	case SourceFormats:
		for _, format := range cat.Formats {
			opts = append(opts, Option{Value: format, Label: format})
		}
	}
	return opts
}

func entryOption(en ows.Entry) Option {
	label := en.Label
	if label == "" {
		label = en.ID
	}
	return Option{Value: en.ID, Label: label}
}

// ApplyEnrichment swaps in enriched SOS entries and shows the catalog extent
// in the bounding-box fields.
func (e *Engine) ApplyEnrichment(en ows.Enrichment) {
	if e.catalog == nil {
		return
	}
	e.catalog.Entries = en.Entries
	e.catalog.Extent = en.Extent
	if en.Extent != nil {
		e.bbox.Show(*en.Extent)
	}
}

// EntryCount is the number of selectable entries.
func (e *Engine) EntryCount() int {
	n := 0
	for _, o := range e.options[EntryField(e.kind)] {
		if !o.Disabled && o.Value != "" {
			n++
		}
	}
	return n
}

// Value returns the current value of a field as the form displays it.
func (e *Engine) Value(name string) string {
	if isBBoxField(name) {
		return bboxValue(e.bbox.Fields(), name)
	}
	return e.values[name]
}

// Values returns every field value.
func (e *Engine) Values() map[string]string {
	out := make(map[string]string, len(e.fields))
	for _, f := range e.fields {
		out[f.Name] = e.Value(f.Name)
	}
	return out
}

func bboxValue(b request.BBoxFields, name string) string {
	var v *float64
	switch name {
	case FieldMinX:
		v = b.MinX
	case FieldMinY:
		v = b.MinY
	case FieldMaxX:
		v = b.MaxX
	case FieldMaxY:
		v = b.MaxY
	}
	if v == nil {
		return ""
	}
	return geo.FormatFloat(*v)
}

// SelectedEntry returns the catalog entry currently selected.
func (e *Engine) SelectedEntry() (ows.Entry, bool) {
	return e.catalog.Entry(e.values[EntryField(e.kind)])
}

// Set writes one field and runs its dependent recomputation: selecting an
// entry or CRS recomputes the bounding box, selecting a sensor pre-fills the
// time window, and editing a box field marks the box as overridden.
//
// The value is stored even when the recomputation fails, as a select element
// would keep the chosen option.
func (e *Engine) Set(ctx context.Context, name, value string, interactive bool) (Change, error) {
	f, ok := e.field(name)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	value = strings.TrimSpace(value)
	if err := e.validate(f, value); err != nil {
		return Change{}, err
	}

	change := Change{Field: name, Values: map[string]string{}}
	var err error

	switch {
	case isBBoxField(name):
		var v *float64
		if value != "" {
			n, _ := strconv.ParseFloat(value, 64)
			v = &n
		}
		err = e.bbox.Override(name, v)
		change.Values[name] = e.Value(name)

	case name == FieldCRS:
		e.values[name] = value
		change.Values[name] = value
		err = e.bbox.ChangeCRS(ctx, value, interactive)
		e.bboxValues(change.Values)

	case name == EntryField(e.kind):
		e.values[name] = value
		change.Values[name] = value
		if e.kind == ows.KindSOS {
			e.prefillWindow(change.Values)
			break
		}
		en, _ := e.catalog.Entry(value)
		err = e.bbox.SelectEntry(ctx, en.BoundingBox)
		e.bboxValues(change.Values)

	default:
		e.values[name] = value
		change.Values[name] = value
	}

	change.BBoxState = e.bbox.State().String()
	if err != nil {
		logging.Warn("Form", "%s %s=%q: %v", e.kind.Upper(), name, value, err)
	}
	return change, err
}

func (e *Engine) bboxValues(into map[string]string) {
	for _, n := range []string{FieldMinX, FieldMinY, FieldMaxX, FieldMaxY} {
		into[n] = e.Value(n)
	}
}

func (e *Engine) prefillWindow(into map[string]string) {
	win := ows.DefaultTimeWindow
	if en, ok := e.SelectedEntry(); ok {
		if w, ok := ows.ParseTimeWindow(en.ExtraValue(ows.ExtraTimeInterval), e.zone); ok {
			win = w
		}
	}
	for name, v := range map[string]string{
		FieldStartDate: win.StartDate,
		FieldStartTime: win.StartTime,
		FieldEndDate:   win.EndDate,
		FieldEndTime:   win.EndTime,
	} {
		e.values[name] = v
		into[name] = v
	}
}

// validate accepts a blank value for any field.
func (e *Engine) validate(f Field, value string) error {
	if value == "" {
		return nil
	}
	invalid := func(reason string) error {
		return fmt.Errorf("%w: %s %q: %s", ErrInvalidValue, f.Name, value, reason)
	}
	switch f.Input {
	case InputSelect:
		for _, o := range e.options[f.Name] {
			if !o.Disabled && o.Value == value {
				return nil
			}
		}
		return invalid("not an available option")
	case InputNumber:
		if f.Name == FieldWidth || f.Name == FieldHeight {
			if n, err := strconv.Atoi(value); err != nil || n <= 0 {
				return invalid("must be a positive integer")
			}
			return nil
		}
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return invalid("must be a number")
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return invalid("must be finite")
		}
	case InputDate:
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			return invalid("must be YYYY-MM-DD")
		}
	case InputTime:
		_, err1 := time.Parse("15:04", value)
		_, err2 := time.Parse(time.TimeOnly, value)
		if err1 != nil && err2 != nil {
			return invalid("must be HH:MM or HH:MM:SS")
		}
	}
	return nil
}

// FilterSensors narrows the SOS sensor options to the sensors inside the
// displayed bounding box and returns them.
func (e *Engine) FilterSensors() ([]ows.Entry, error) {
	if e.kind != ows.KindSOS || e.catalog == nil {
		return nil, fmt.Errorf("%w: no sensor catalog loaded", ErrInvalidValue)
	}
	env, ok := e.bbox.Fields().Envelope()
	if !ok {
		return nil, fmt.Errorf("%w: enter valid BBOX coordinates", ErrInvalidValue)
	}
	matched := ows.FilterSensors(e.catalog.Entries, env)

	f, _ := e.field(FieldSensor)
	opts := []Option{placeholder(f.Placeholder)}
	for _, en := range matched {
		opts = append(opts, entryOption(en))
	}
	e.options[FieldSensor] = opts
	e.values[FieldSensor] = ""
	return matched, nil
}

// BuildContext snapshots every non-manual field with its description and,
// for select fields, the enabled non-blank options.
func (e *Engine) BuildContext() Context {
	snap := make(Context, len(e.fields))
	for _, f := range e.fields {
		if f.Manual {
			continue
		}
		cf := ContextField{Description: f.Description}
		if f.Input == InputSelect {
			cf.Options = []ContextOption{}
			for _, o := range e.options[f.Name] {
				if o.Disabled || strings.TrimSpace(o.Value) == "" {
					continue
				}
				cf.Options = append(cf.Options, ContextOption{Value: o.Value, Label: o.Label})
			}
		}
		snap[f.Name] = cf
	}
	return snap
}

// Selection converts the current values into a request selection.
func (e *Engine) Selection() request.Selection {
	sel := request.Selection{
		Entry:     e.values[EntryField(e.kind)],
		CRS:       e.values[FieldCRS],
		Format:    e.values[FieldFormat],
		BBox:      e.bbox.Fields(),
		Width:     intValue(e.values[FieldWidth]),
		Height:    intValue(e.values[FieldHeight]),
		FeatureID: e.values[FieldFeatureID],
		StartDate: e.values[FieldStartDate],
		StartTime: e.values[FieldStartTime],
		EndDate:   e.values[FieldEndDate],
		EndTime:   e.values[FieldEndTime],
	}
	if e.kind == ows.KindSOS {
		if en, ok := e.SelectedEntry(); ok {
			sel.ObservedProperty = en.ExtraValue(ows.ExtraObservedProperty)
		}
	}
	return sel
}

func intValue(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
