// Package form keeps one service tab's fields in step with its capabilities
// catalog and exposes the resolved options as agent context.
package form

import (
	"errors"

	"github.com/joeblew999/plat-ows/internal/ows"
)

var (
	// ErrCRSRequired asks an interactive caller to pick a CRS first.
	ErrCRSRequired = errors.New("please select a CRS")
	// ErrUnknownField is returned for field names the tab does not have.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue is returned when a value does not fit its field.
	ErrInvalidValue = errors.New("invalid field value")
)

// Field names shared by the HTML form, datastar signals and agent context.
const (
	FieldLayer     = "layer"
	FieldSensor    = "sensor"
	FieldCRS       = "crs"
	FieldFormat    = "format"
	FieldMinX      = "minx"
	FieldMinY      = "miny"
	FieldMaxX      = "maxx"
	FieldMaxY      = "maxy"
	FieldWidth     = "width"
	FieldHeight    = "height"
	FieldFeatureID = "featureid"
	FieldStartDate = "startdate"
	FieldStartTime = "starttime"
	FieldEndDate   = "enddate"
	FieldEndTime   = "endtime"
)

// InputKind is the HTML input type of a field.
type InputKind string

const (
	InputSelect InputKind = "select"
	InputNumber InputKind = "number"
	InputDate   InputKind = "date"
	InputTime   InputKind = "time"
	InputText   InputKind = "text"
)

// OptionSource names the catalog list a select field is filled from.
type OptionSource int

const (
	SourceNone OptionSource = iota
	SourceEntries
	SourceCRS
	SourceFormats
)

// Field describes one form input.
type Field struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Input       InputKind    `json:"input"`
	Source      OptionSource `json:"-"`
	Placeholder string       `json:"placeholder,omitempty"`
	// Manual fields are kept out of agent context.
	Manual bool `json:"manual,omitempty"`
}

func bboxFields() []Field {
	return []Field{
		{Name: FieldMinX, Description: "BBOX Min X", Input: InputNumber},
		{Name: FieldMinY, Description: "BBOX Min Y", Input: InputNumber},
		{Name: FieldMaxX, Description: "BBOX Max X", Input: InputNumber},
		{Name: FieldMaxY, Description: "BBOX Max Y", Input: InputNumber},
	}
}

// FieldsFor returns the fields of a tab in display order. Agent writes are
// applied in this order, so selections come before the values they reset.
func FieldsFor(kind ows.ServiceKind) []Field {
	switch kind {
	case ows.KindWMS:
		fields := []Field{
			{Name: FieldLayer, Description: "Layer Name", Input: InputSelect, Source: SourceEntries, Placeholder: "Select a layer"},
			{Name: FieldCRS, Description: "Coordinate Reference System", Input: InputSelect, Source: SourceCRS, Placeholder: "Select CRS"},
			{Name: FieldFormat, Description: "Image Format", Input: InputSelect, Source: SourceFormats, Placeholder: "Select Output Format"},
		}
		fields = append(fields, bboxFields()...)
		return append(fields,
			Field{Name: FieldWidth, Description: "Width", Input: InputNumber},
			Field{Name: FieldHeight, Description: "Height", Input: InputNumber},
		)
	case ows.KindWFS:
		fields := []Field{
			{Name: FieldLayer, Description: "Feature Type", Input: InputSelect, Source: SourceEntries, Placeholder: "Select a Feature"},
			{Name: FieldCRS, Description: "CRS", Input: InputSelect, Source: SourceCRS, Placeholder: "Select CRS"},
			{Name: FieldFormat, Description: "Output Format", Input: InputSelect, Source: SourceFormats, Placeholder: "Select Output Format"},
		}
		fields = append(fields, bboxFields()...)
		return append(fields,
			Field{Name: FieldFeatureID, Description: "Feature ID", Input: InputText, Manual: true},
		)
	case ows.KindSOS:
		fields := []Field{
			{Name: FieldSensor, Description: "Sensor", Input: InputSelect, Source: SourceEntries, Placeholder: "Select a sensor"},
		}
		fields = append(fields, bboxFields()...)
		return append(fields,
			Field{Name: FieldStartDate, Description: "Start Date", Input: InputDate},
			Field{Name: FieldStartTime, Description: "Start Time", Input: InputTime},
			Field{Name: FieldEndDate, Description: "End Date", Input: InputDate},
			Field{Name: FieldEndTime, Description: "End Time", Input: InputTime},
		)
	}
	return nil
}

// EntryField returns the name of the field holding the selected entry.
func EntryField(kind ows.ServiceKind) string {
	if kind == ows.KindSOS {
		return FieldSensor
	}
	return FieldLayer
}

func isBBoxField(name string) bool {
	switch name {
	case FieldMinX, FieldMinY, FieldMaxX, FieldMaxY:
		return true
	}
	return false
}

// Option is one select option. The placeholder is disabled with a blank value.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled,omitempty"`
}

func placeholder(label string) Option {
	return Option{Label: label, Disabled: true}
}
