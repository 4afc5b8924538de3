package geo

import (
	"fmt"

	"github.com/wroge/wgs84"
)

// Map display always uses web mercator; capabilities and home locations are
// given in geographic coordinates (EPSG:4326, longitude first here).

// Extent is an axis-aligned bounding box. For geographic extents X is
// longitude and Y is latitude.
type Extent struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Point is a single coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// To3857 converts a longitude/latitude pair to EPSG:3857 meters.
func To3857(lon, lat float64) Point {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(lon, lat, 0)
	return Point{X: x, Y: y}
}

// Center returns the midpoint of the extent.
func (e Extent) Center() Point {
	return Point{
		X: (e.MinX + e.MaxX) / 2.0,
		Y: (e.MinY + e.MaxY) / 2.0,
	}
}

// To3857 reprojects a longitude-first geographic extent to web mercator.
func (e Extent) To3857() Extent {
	lo := To3857(e.MinX, e.MinY)
	hi := To3857(e.MaxX, e.MaxY)
	return Extent{MinX: lo.X, MinY: lo.Y, MaxX: hi.X, MaxY: hi.Y}
}

// String formats the extent as "minx,miny,maxx,maxy", the WMS BBOX form.
func (e Extent) String() string {
	return fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(e.MinX), formatCoord(e.MinY), formatCoord(e.MaxX), formatCoord(e.MaxY))
}

func formatCoord(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
