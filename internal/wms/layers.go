package wms

import (
	"fmt"
	"strings"
	"time"
)

// LayerSummary is a one-line description of a published layer.
type LayerSummary struct {
	Name   string
	Title  string
	Frames int
	Latest time.Time
}

// ListLayers returns every named layer in a capabilities document, in
// document order. Layers without a usable time dimension report zero frames.
func ListLayers(raw []byte) ([]LayerSummary, error) {
	doc, err := decode(raw)
	if err != nil {
		return nil, &ParseError{Reason: "malformed capabilities document", Err: err}
	}

	var out []LayerSummary
	for _, l := range doc.Capability.Layer.Layers {
		if l.Name == "" {
			continue
		}
		s := LayerSummary{Name: l.Name, Title: strings.TrimSpace(l.Title)}
		if dim := findDimension(l.Dimensions, "time"); dim != nil {
			if values, err := parseTimeList(dim.Values); err == nil && len(values) > 0 {
				s.Frames = len(values)
				s.Latest = values[len(values)-1]
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Products returns the product part of each layer name published for site,
// e.g. "bref_raw" for "kmux_bref_raw".
func Products(layers []LayerSummary, site string) []string {
	prefix := fmt.Sprintf("%s_", site)
	var out []string
	for _, l := range layers {
		if p, ok := strings.CutPrefix(l.Name, prefix); ok {
			out = append(out, p)
		}
	}
	return out
}
