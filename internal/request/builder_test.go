package request

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-ows/internal/geo"
	"github.com/joeblew999/plat-ows/internal/ows"
)

func intPtr(v int) *int { return &v }

func wmsSelection() Selection {
	return Selection{
		Entry:  "india:states",
		CRS:    "EPSG:4326",
		Format: "image/png",
		BBox:   NewBBoxFields(geo.Envelope{MinX: 68.1, MinY: 6.5, MaxX: 97.4, MaxY: 35.7}),
		Width:  intPtr(800),
		Height: intPtr(600),
	}
}

func TestBuild_WMS(t *testing.T) {
	q, err := NewBuilder(Config{}).Build(ows.KindWMS, wmsSelection())
	require.NoError(t, err)

	assert.Equal(t,
		"service=WMS&version=1.1.1&request=GetMap&layers=india:states&styles=&bbox=68.1,6.5,97.4,35.7&width=800&height=600&crs=EPSG:4326&format=image/png",
		q.Primary)
	assert.Equal(t,
		"service=WMS&version=1.1.1&request=GetMap&layers=india:states&styles=&bbox=68.1,6.5,97.4,35.7&width=800&height=600&crs=EPSG:4326&format=image/tiff",
		q.Overlay)

	primary, overlay := q.URLs("http://localhost:8080/geoserver/wms")
	assert.Equal(t, "http://localhost:8080/geoserver/wms?"+q.Primary, primary)
	assert.Equal(t, "http://localhost:8080/geoserver/wms?"+q.Overlay, overlay)
}

func TestBuild_WMSMissing(t *testing.T) {
	sel := wmsSelection()
	sel.Format = ""
	sel.BBox.MaxY = nil
	sel.Width = nil

	_, err := NewBuilder(Config{}).Build(ows.KindWMS, sel)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"format", "maxy", "width"}, verr.Missing)
	assert.Contains(t, verr.Error(), "WMS request invalid")
}

func TestBuild_RejectsUnusableBBox(t *testing.T) {
	inverted := NewBBoxFields(geo.Envelope{MinX: 97.4, MinY: 6.5, MaxX: 68.1, MaxY: 35.7})
	flipped := NewBBoxFields(geo.Envelope{MinX: 68.1, MinY: 50, MaxX: 97.4, MaxY: 10})
	nonFinite := NewBBoxFields(geo.Envelope{MinX: math.NaN(), MinY: 6.5, MaxX: math.Inf(-1), MaxY: 35.7})

	b := NewBuilder(Config{})
	for name, bbox := range map[string]BBoxFields{
		"inverted x": inverted,
		"inverted y": flipped,
		"not finite": nonFinite,
	} {
		t.Run("wms "+name, func(t *testing.T) {
			sel := wmsSelection()
			sel.BBox = bbox
			q, err := b.Build(ows.KindWMS, sel)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, []string{"bbox"}, verr.Conflict)
			assert.Contains(t, verr.Reason, "bbox min exceeds max")
			assert.Empty(t, q.Primary)
		})
		t.Run("wfs "+name, func(t *testing.T) {
			sel := Selection{Entry: "india:roads", CRS: "EPSG:4326", Format: "application/json", BBox: bbox}
			_, err := b.Build(ows.KindWFS, sel)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, []string{"bbox"}, verr.Conflict)
		})
	}
}

func TestBuild_WFSExactlyOne(t *testing.T) {
	base := Selection{Entry: "india:roads", CRS: "EPSG:3857", Format: "application/json"}
	bbox := NewBBoxFields(geo.Envelope{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4})

	tests := []struct {
		name    string
		bbox    BBoxFields
		fid     string
		wantErr bool
	}{
		{"both", bbox, "12", true},
		{"neither", BBoxFields{}, "", true},
		{"bbox only", bbox, "", false},
		{"feature id only", BBoxFields{}, "12", false},
		{"partial bbox", BBoxFields{MinX: bbox.MinX}, "", true},
		{"whitespace id counts as empty", BBoxFields{}, "  ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := base
			sel.BBox = tt.bbox
			sel.FeatureID = tt.fid
			_, err := NewBuilder(Config{}).Build(ows.KindWFS, sel)
			if tt.wantErr {
				var verr *ValidationError
				assert.True(t, errors.As(err, &verr))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuild_WFSBBoxForm(t *testing.T) {
	sel := Selection{
		Entry:  "ne:disputed_areas",
		CRS:    "EPSG:54009",
		Format: "application/gml+xml; version=3.2",
		BBox:   NewBBoxFields(geo.Envelope{MinX: -58.4, MinY: 1.5, MaxX: 148.8, MaxY: 48.7}),
	}
	q, err := NewBuilder(Config{}).Build(ows.KindWFS, sel)
	require.NoError(t, err)

	assert.Equal(t,
		"service=WFS&version=2.0.0&request=GetFeature&typeNames=ne:disputed_areas&outputFormat=application/gml%2Bxml;%20version=3.2&crs=EPSG:54009&bbox=-58.4,1.5,148.8,48.7,EPSG:54009",
		q.Primary)
	assert.Equal(t,
		"service=WFS&version=2.0.0&request=GetFeature&typeNames=ne:disputed_areas&outputFormat=application/json&crs=EPSG:54009&bbox=-58.4,1.5,148.8,48.7,EPSG:54009",
		q.Overlay)
}

func TestBuild_WFSFeatureIDForm(t *testing.T) {
	sel := Selection{Entry: "ne:disputed_areas", CRS: "EPSG:4326", Format: "application/json", FeatureID: "1"}
	q, err := NewBuilder(Config{}).Build(ows.KindWFS, sel)
	require.NoError(t, err)
	assert.Equal(t,
		"service=WFS&version=2.0.0&request=GetFeature&typeNames=ne:disputed_areas&outputFormat=application/json&crs=EPSG:4326&featureID=disputed_areas.1",
		q.Primary)
}

func sosSelection() Selection {
	return Selection{
		Entry:            "urn:ogc:def:procedure:x-istsos:1.0:DELHI",
		ObservedProperty: "urn:ogc:def:parameter:x-istsos:1.0:meteo:air:temperature",
		StartDate:        "2023-06-03",
		StartTime:        "20:00",
		EndDate:          "2023-06-04",
		EndTime:          "08:30:15",
	}
}

func TestBuild_SOS(t *testing.T) {
	b := NewBuilder(Config{UTCOffset: DefaultUTCOffset})
	q, err := b.Build(ows.KindSOS, sosSelection())
	require.NoError(t, err)

	assert.Equal(t,
		"request=GetObservation&service=SOS&version=1.0.0&offering=temporary&procedure=DELHI"+
			"&eventTime=2023-06-03T14:30:00Z/2023-06-04T03:00:15Z"+
			"&observedProperty=urn:ogc:def:parameter:x-istsos:1.0:meteo:air:temperature&responseFormat=text/xml",
		q.Primary)
	assert.Empty(t, q.Overlay)
}

func TestBuild_SOSOffsetIsWholeDuration(t *testing.T) {
	b := NewBuilder(Config{UTCOffset: DefaultUTCOffset})
	got, err := b.ToUTC("2023-06-03", "05:30")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2023, 6, 3, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, DefaultUTCOffset, time.Duration(5.5*float64(time.Hour)))
	_, offset := time.Now().In(b.Zone()).Zone()
	assert.Equal(t, 19800, offset)
}

func TestBuild_SOSValidation(t *testing.T) {
	b := NewBuilder(Config{UTCOffset: DefaultUTCOffset, Offering: "offering-x"})

	sel := sosSelection()
	sel.StartTime = ""
	sel.ObservedProperty = ows.UnknownValue
	_, err := b.Build(ows.KindSOS, sel)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"observedProperty", "starttime"}, verr.Missing)

	sel = sosSelection()
	sel.EndDate = "2023-06-01"
	_, err = b.Build(ows.KindSOS, sel)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"start", "end"}, verr.Conflict)

	sel = sosSelection()
	sel.StartDate = "03/06/2023"
	_, err = b.Build(ows.KindSOS, sel)
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reason, "invalid start")

	q, err := b.Build(ows.KindSOS, sosSelection())
	require.NoError(t, err)
	assert.Contains(t, q.Primary, "&offering=offering-x&")
}

func TestBBoxFields(t *testing.T) {
	var b BBoxFields
	assert.False(t, b.Any())
	assert.False(t, b.Full())
	_, ok := b.Envelope()
	assert.False(t, ok)

	v := 1.0
	b.MinY = &v
	assert.True(t, b.Any())
	assert.False(t, b.Full())
}
