package wms

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Zachdehooge/radar-loop/internal/geo"
)

// EmptyLegendURL is used when a layer advertises no legend graphic.
const EmptyLegendURL = "data:,"

// ErrParse is matched by every error returned from Parse.
var ErrParse = errors.New("capabilities parse error")

// ParseError describes why a capabilities document could not be turned into
// a LayerRecord.
type ParseError struct {
	Layer  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Reason
	if e.Layer != "" {
		msg = fmt.Sprintf("layer %s: %s", e.Layer, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is reports true for ErrParse so callers need not know the concrete type.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// BoundingBox is a raw WMS bounding box in the axis order of its CRS.
type BoundingBox struct {
	CRS  string  `json:"crs"`
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// LonLat returns the box as a longitude-first extent. WMS 1.3.0 puts
// latitude on the first axis for EPSG:4326, so those boxes are swapped.
func (b BoundingBox) LonLat() geo.Extent {
	if strings.EqualFold(b.CRS, "EPSG:4326") {
		return geo.Extent{MinX: b.MinY, MinY: b.MinX, MaxX: b.MaxY, MaxY: b.MaxX}
	}
	return geo.Extent{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
}

// WebMercator returns the box in EPSG:3857, reprojecting geographic boxes.
func (b BoundingBox) WebMercator() geo.Extent {
	if strings.EqualFold(b.CRS, "EPSG:3857") {
		return geo.Extent{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
	}
	return b.LonLat().To3857()
}

// TimeDimension lists the image times a layer can be requested for.
type TimeDimension struct {
	Default time.Time   `json:"default"`
	Values  []time.Time `json:"values"`
}

// LayerRecord is the part of a capabilities document describing one layer.
type LayerRecord struct {
	Name          string                 `json:"name"`
	Title         string                 `json:"title"`
	Abstract      string                 `json:"abstract"`
	Time          TimeDimension          `json:"time"`
	CRS           string                 `json:"crs"`
	BoundingBoxes map[string]BoundingBox `json:"boundingBoxes"`
	Style         string                 `json:"style"`
	LegendURL     string                 `json:"legendUrl"`
}

// BoundingBox returns the box for the CRS the record was parsed against.
func (l *LayerRecord) BoundingBox() BoundingBox {
	return l.BoundingBoxes[l.CRS]
}

// LayerName joins a radar site and product into the layer name GeoServer
// publishes, e.g. "kmux" + "bref_raw" -> "kmux_bref_raw".
func LayerName(site, product string) string {
	return site + "_" + product
}

// Parse extracts layerName from a capabilities document. The bounding box for
// crs must be present.
func Parse(raw []byte, layerName, crs string) (*LayerRecord, error) {
	doc, err := decode(raw)
	if err != nil {
		return nil, &ParseError{Reason: "malformed capabilities document", Err: err}
	}

	node := findLayer(doc.Capability.Layer.Layers, layerName)
	if node == nil {
		return nil, &ParseError{Layer: layerName, Reason: "layer not found"}
	}

	dim := findDimension(node.Dimensions, "time")
	if dim == nil {
		return nil, &ParseError{Layer: layerName, Reason: "time dimension not found"}
	}
	defaultStr := strings.TrimSpace(dim.Default)
	if defaultStr == "" {
		return nil, &ParseError{Layer: layerName, Reason: "time dimension has no default"}
	}

	values, err := parseTimeList(dim.Values)
	if err != nil {
		return nil, &ParseError{Layer: layerName, Reason: "invalid time value", Err: err}
	}

	defaultTime, err := parseTime(defaultStr)
	if err != nil {
		// GeoServer may publish "current"; the newest listed time is what it means.
		if len(values) == 0 {
			return nil, &ParseError{Layer: layerName, Reason: "invalid default time", Err: err}
		}
		defaultTime = values[len(values)-1]
	}

	boxes := make(map[string]BoundingBox, len(node.BoundingBoxes))
	for _, bb := range node.BoundingBoxes {
		if _, seen := boxes[bb.CRS]; seen {
			continue
		}
		boxes[bb.CRS] = BoundingBox{CRS: bb.CRS, MinX: bb.MinX, MinY: bb.MinY, MaxX: bb.MaxX, MaxY: bb.MaxY}
	}
	if _, ok := boxes[crs]; !ok {
		return nil, &ParseError{Layer: layerName, Reason: fmt.Sprintf("bounding box not found for CRS %s", crs)}
	}

	style, legend := legendFor(node.Styles)

	return &LayerRecord{
		Name:     node.Name,
		Title:    strings.TrimSpace(node.Title),
		Abstract: strings.TrimSpace(node.Abstract),
		Time: TimeDimension{
			Default: defaultTime,
			Values:  values,
		},
		CRS:           crs,
		BoundingBoxes: boxes,
		Style:         style,
		LegendURL:     legend,
	}, nil
}

func decode(raw []byte) (*capabilitiesDoc, error) {
	var doc capabilitiesDoc
	dec := xml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func findLayer(layers []layerNode, name string) *layerNode {
	for i := range layers {
		if layers[i].Name == name {
			return &layers[i]
		}
	}
	return nil
}

func findDimension(dims []dimensionNode, name string) *dimensionNode {
	for i := range dims {
		if dims[i].Name == name {
			return &dims[i]
		}
	}
	return nil
}

func legendFor(styles []styleNode) (style, legend string) {
	legend = EmptyLegendURL
	if len(styles) == 0 {
		return "", legend
	}
	style = strings.TrimSpace(styles[0].Name)
	if len(styles[0].LegendURLs) == 0 {
		return style, legend
	}
	if href := strings.TrimSpace(styles[0].LegendURLs[0].OnlineResource.Href); href != "" {
		legend = href
	}
	return style, legend
}

// parseTimeList splits a comma separated dimension value list, returning the
// times oldest first.
func parseTimeList(text string) ([]time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	values := make([]time.Time, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		t, err := parseTime(p)
		if err != nil {
			return nil, err
		}
		values = append(values, t)
	}
	if !slices.IsSortedFunc(values, compareTime) {
		slices.SortStableFunc(values, compareTime)
	}
	return values, nil
}

func compareTime(a, b time.Time) int {
	return a.Compare(b)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
