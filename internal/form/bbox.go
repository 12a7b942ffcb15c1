package form

import (
	"context"

	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/request"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// BBoxState says why the bounding-box fields hold their current values.
type BBoxState int

const (
	// BBoxEmpty: no entry with a stored box is selected.
	BBoxEmpty BBoxState = iota
	// BBoxComputed: the fields were derived from the selected entry's box.
	BBoxComputed
	// BBoxUserOverridden: a person edited a field after it was computed.
	BBoxUserOverridden
)

func (s BBoxState) String() string {
	switch s {
	case BBoxComputed:
		return "computed"
	case BBoxUserOverridden:
		return "overridden"
	default:
		return "empty"
	}
}

// Reprojector transforms envelopes between CRS codes, registering unknown
// codes as needed. *crs.Registry satisfies it.
type Reprojector interface {
	Reproject(ctx context.Context, env geo.Envelope, from, to string) (geo.Envelope, error)
}

// BBoxController owns one tab's bounding-box fields.
//
// The entry's geographic box is kept as the source of every recomputation,
// so switching CRS repeatedly never reprojects an already reprojected box.
// UserOverridden does not block recomputation.
type BBoxController struct {
	reproj Reprojector
	state  BBoxState
	source *geo.Envelope
	crs    string
	fields request.BBoxFields
}

// NewBBoxController creates a controller in the Empty state.
func NewBBoxController(r Reprojector) *BBoxController {
	return &BBoxController{reproj: r}
}

func (c *BBoxController) State() BBoxState { return c.state }
func (c *BBoxController) Fields() request.BBoxFields { return c.fields }
func (c *BBoxController) CRS() string { return c.crs }

// Source returns a copy of the selected entry's EPSG:4326 box, or nil.
func (c *BBoxController) Source() *geo.Envelope {
	if c.source == nil {
		return nil
	}
	s := *c.source
	return &s
}

// SelectEntry records the newly selected entry's stored box. Without a box
// the state becomes Empty and the displayed fields are left alone. Without a
// selected CRS the box is kept for later and nothing is computed.
func (c *BBoxController) SelectEntry(ctx context.Context, box *geo.Envelope) error {
	if box == nil {
		c.source = nil
		c.state = BBoxEmpty
		return nil
	}
	src := *box
	c.source = &src
	if c.crs == "" {
		logging.Debug("Form", "entry selected before CRS, bbox not computed")
		return nil
	}
	return c.recompute(ctx)
}

// ChangeCRS switches the target CRS and recomputes from the source box.
// An empty code returns ErrCRSRequired when interactive and is ignored
// otherwise.
func (c *BBoxController) ChangeCRS(ctx context.Context, code string, interactive bool) error {
	c.crs = code
	if code == "" {
		if interactive {
			return ErrCRSRequired
		}
		return nil
	}
	if c.source == nil {
		return nil
	}
	return c.recompute(ctx)
}

func (c *BBoxController) recompute(ctx context.Context) error {
	env, err := c.reproj.Reproject(ctx, c.source.Clamp(), geo.WGS84, c.crs)
	if err != nil {
		return err
	}
	c.fields = request.NewBBoxFields(env)
	c.state = BBoxComputed
	return nil
}

// Override writes one field by hand. A nil value blanks the field.
func (c *BBoxController) Override(field string, v *float64) error {
	switch field {
	case FieldMinX:
		c.fields.MinX = v
	case FieldMinY:
		c.fields.MinY = v
	case FieldMaxX:
		c.fields.MaxX = v
	case FieldMaxY:
		c.fields.MaxY = v
	default:
		return ErrUnknownField
	}
	c.state = BBoxUserOverridden
	return nil
}

// Show displays env without changing the source box. Used for catalog-wide
// extents such as the union of sensor locations.
func (c *BBoxController) Show(env geo.Envelope) {
	c.fields = request.NewBBoxFields(env)
	c.state = BBoxComputed
}

// Reset returns to Empty and blanks every field. The CRS choice is dropped
// too since a fresh catalog starts with nothing selected.
func (c *BBoxController) Reset() {
	c.source = nil
	c.crs = ""
	c.fields = request.BBoxFields{}
	c.state = BBoxEmpty
}
