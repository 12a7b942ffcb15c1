package ows

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// CRSSource supplies the fixed CRS option list for WMS and WFS catalogs.
type CRSSource interface {
	Builtin() []crs.Descriptor
}

// Parser converts capability documents into catalogs.
type Parser struct {
	crs CRSSource
}

// NewParser creates a parser. src may be nil, in which case catalogs carry
// no CRS options.
func NewParser(src CRSSource) *Parser {
	return &Parser{crs: src}
}

// Parse builds a catalog from raw. A malformed document fails with
// ErrMalformedDocument and a nil catalog. Missing schema nodes yield a
// usable catalog together with an error wrapping ErrEmptySelector.
func (p *Parser) Parse(kind ServiceKind, raw []byte) (*Catalog, error) {
	root, err := readDocument(raw)
	if err != nil {
		metrics.CatalogsParsed.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		return nil, err
	}
	if root.Tag == "ExceptionReport" || root.Tag == "ServiceExceptionReport" {
		msg := text(firstDescendant(root, "ExceptionText"))
		if msg == "" {
			msg = text(firstDescendant(root, "ServiceException"))
		}
		metrics.CatalogsParsed.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("%w: %w: %s", ErrMalformedDocument, ErrServiceException, msg)
	}

	cat := &Catalog{Kind: kind, Entries: []Entry{}, Formats: []string{}, CRS: []crs.Descriptor{}}
	var soft []error

	switch kind {
	case KindWMS:
		soft = p.parseWMS(root, cat)
	case KindWFS:
		soft = p.parseWFS(root, cat)
	case KindSOS:
		soft = parseSOS(root, cat)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	before := len(cat.Entries)
	cat.Entries = dedupe(cat.Entries)
	if dropped := before - len(cat.Entries); dropped > 0 {
		logging.Debug("Capabilities", "%s: dropped %d duplicate entries", kind, dropped)
	}

	if len(soft) > 0 {
		err := errors.Join(soft...)
		logging.Warn("Capabilities", "%s: %v", kind, err)
		metrics.CatalogsParsed.WithLabelValues(string(kind), metrics.OutcomeSoft).Inc()
		return cat, err
	}
	logging.Info("Capabilities", "%s: %d entries, %d formats", kind, len(cat.Entries), len(cat.Formats))
	metrics.CatalogsParsed.WithLabelValues(string(kind), metrics.OutcomeOK).Inc()
	return cat, nil
}

func (p *Parser) builtinCRS() []crs.Descriptor {
	if p.crs == nil {
		return []crs.Descriptor{}
	}
	return p.crs.Builtin()
}

func emptySelector(kind ServiceKind, node string) error {
	return fmt.Errorf("%w: %s %s", ErrEmptySelector, kind.Upper(), node)
}

// parseWMS reads Layer nodes, skipping the first (root container) layer.
func (p *Parser) parseWMS(root *etree.Element, cat *Catalog) []error {
	var soft []error

	layers := descendants(root, "Layer")
	if len(layers) == 0 {
		soft = append(soft, emptySelector(KindWMS, "Layer"))
	}
	for i, layer := range layers {
		if i == 0 {
			continue
		}
		cat.Entries = append(cat.Entries, namedEntry(layer, i))
	}

	cat.CRS = p.builtinCRS()

	getMap := firstDescendant(root, "GetMap")
	if getMap == nil {
		soft = append(soft, emptySelector(KindWMS, "GetMap"))
		return soft
	}
	var formats []string
	for _, f := range children(getMap, "Format") {
		formats = append(formats, text(f))
	}
	cat.Formats = uniqueStrings(formats)
	return soft
}

// parseWFS reads FeatureType nodes and the GetFeature outputFormat values.
func (p *Parser) parseWFS(root *etree.Element, cat *Catalog) []error {
	var soft []error

	types := descendants(root, "FeatureType")
	if len(types) == 0 {
		soft = append(soft, emptySelector(KindWFS, "FeatureType"))
	}
	for i, ft := range types {
		cat.Entries = append(cat.Entries, namedEntry(ft, i))
	}

	cat.CRS = p.builtinCRS()

	op := operation(root, "GetFeature")
	if op == nil {
		soft = append(soft, emptySelector(KindWFS, "GetFeature operation"))
		return soft
	}
	param := namedChild(op, "Parameter", "outputFormat")
	if param == nil {
		soft = append(soft, emptySelector(KindWFS, "GetFeature outputFormat parameter"))
		return soft
	}
	var formats []string
	for _, v := range descendants(param, "Value") {
		formats = append(formats, text(v))
	}
	cat.Formats = uniqueStrings(formats)
	return soft
}

// parseSOS reads procedure references. Entries carry only an id and a short
// name until EnrichSensors fills in the rest.
func parseSOS(root *etree.Element, cat *Catalog) []error {
	procs := descendants(root, "procedure")
	if len(procs) == 0 {
		return []error{emptySelector(KindSOS, "procedure")}
	}
	for _, proc := range procs {
		href := attr(proc, "href")
		if href == "" {
			continue
		}
		name := ShortName(href)
		cat.Entries = append(cat.Entries, Entry{
			ID:    href,
			Label: name,
			Extra: map[string]string{ExtraName: name},
		})
	}
	return nil
}

// namedEntry builds an entry from a Layer or FeatureType node.
func namedEntry(e *etree.Element, index int) Entry {
	name := text(child(e, "Name"))
	title := text(child(e, "Title"))

	id := name
	if id == "" {
		id = title
	}
	if id == "" {
		id = fmt.Sprintf("%s-%d", strings.ToLower(e.Tag), index)
	}
	label := title
	if label == "" {
		label = id
	}
	return Entry{ID: id, Label: label, BoundingBox: boundingBox(e)}
}

// boundingBox extracts an EPSG:4326 box from whichever shape is present:
// legacy LatLonBoundingBox attributes, EX_GeographicBoundingBox children, or
// a WGS84BoundingBox corner pair. Direct children win over nested ones.
func boundingBox(e *etree.Element) *geo.Envelope {
	lookup := func(local string) *etree.Element {
		if c := child(e, local); c != nil {
			return c
		}
		return firstDescendant(e, local)
	}

	if n := lookup("LatLonBoundingBox"); n != nil {
		if v, ok := parseFloats(attr(n, "minx"), attr(n, "miny"), attr(n, "maxx"), attr(n, "maxy")); ok {
			return &geo.Envelope{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
		}
	}
	if n := lookup("EX_GeographicBoundingBox"); n != nil {
		if v, ok := parseFloats(
			text(child(n, "westBoundLongitude")),
			text(child(n, "southBoundLatitude")),
			text(child(n, "eastBoundLongitude")),
			text(child(n, "northBoundLatitude")),
		); ok {
			return &geo.Envelope{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
		}
	}
	if n := lookup("WGS84BoundingBox"); n != nil {
		lower := strings.Fields(text(child(n, "LowerCorner")))
		upper := strings.Fields(text(child(n, "UpperCorner")))
		if len(lower) == 2 && len(upper) == 2 {
			if v, ok := parseFloats(lower[0], lower[1], upper[0], upper[1]); ok {
				return &geo.Envelope{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
			}
		}
	}
	return nil
}

// operation finds the ows:Operation element with the given name attribute.
func operation(root *etree.Element, name string) *etree.Element {
	for _, op := range descendants(root, "Operation") {
		if attr(op, "name") == name {
			return op
		}
	}
	return nil
}

func namedChild(e *etree.Element, local, name string) *etree.Element {
	for _, c := range children(e, local) {
		if attr(c, "name") == name {
			return c
		}
	}
	return nil
}

// ShortName returns the part of a URN after its last colon.
func ShortName(id string) string {
	if i := strings.LastIndex(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}
