package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/store"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func printCatalog(w io.Writer, cat *ows.Catalog) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%s: %d entries", cat.Kind.Upper(), len(cat.Entries)))
	t.AppendHeader(table.Row{"ID", "Label", "Bounding box (EPSG:4326)"})
	for _, e := range cat.Entries {
		bbox := text.FgHiBlack.Sprint("-")
		if e.BoundingBox != nil {
			b := e.BoundingBox
			bbox = fmt.Sprintf("%g, %g, %g, %g", b.MinX, b.MinY, b.MaxX, b.MaxY)
		}
		t.AppendRow(table.Row{e.ID, e.Label, bbox})
	}
	t.Render()

	codes := make([]string, 0, len(cat.CRS))
	for _, c := range cat.CRS {
		codes = append(codes, c.Code)
	}
	fmt.Fprintf(w, "CRS:     %s\n", strings.Join(codes, ", "))
	fmt.Fprintf(w, "Formats: %s\n", strings.Join(cat.Formats, ", "))
	if cat.Extent != nil {
		x := cat.Extent
		fmt.Fprintf(w, "Extent:  %g, %g, %g, %g\n", x.MinX, x.MinY, x.MaxX, x.MaxY)
	}
}

func printHistory(w io.Writer, records []store.QueryRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Time", "Kind", "Session", "URL"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Kind.Upper(),
			text.FgHiBlack.Sprint(r.SessionID),
			r.PrimaryURL,
		})
	}
	t.Render()
}
