package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/store"
)

func TestPrintCatalog(t *testing.T) {
	var buf bytes.Buffer
	printCatalog(&buf, &ows.Catalog{
		Kind: ows.KindWMS,
		Entries: []ows.Entry{
			{ID: "india:states", Label: "India States", BoundingBox: &geo.Envelope{MinX: 68.1, MinY: 6.5, MaxX: 97.4, MaxY: 35.7}},
			{ID: "topp:roads", Label: "Roads"},
		},
		CRS:     []crs.Descriptor{{Code: "EPSG:4326"}, {Code: "EPSG:3857"}},
		Formats: []string{"image/png"},
	})

	out := buf.String()
	assert.Contains(t, out, "WMS: 2 entries")
	assert.Contains(t, out, "68.1, 6.5, 97.4, 35.7")
	assert.Contains(t, out, "CRS:     EPSG:4326, EPSG:3857")
	assert.NotContains(t, out, "Extent:")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, []store.QueryRecord{{
		SessionID:  "s1",
		Kind:       ows.KindSOS,
		PrimaryURL: "http://sos.test/istsos/demo?service=SOS",
		CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	assert.Contains(t, buf.String(), "SOS")
	assert.Contains(t, buf.String(), "http://sos.test/istsos/demo?service=SOS")
}
