package wms

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Zachdehooge/radar-loop/internal/geo"
)

// GetMapRequest describes a single radar image request in web mercator.
type GetMapRequest struct {
	BaseURL string
	Site    string
	Layer   string
	Style   string
	BBox    geo.Extent // EPSG:3857
	Width   int
	Height  int
	Time    time.Time
}

// CapabilitiesURL is the GetCapabilities URL for a site.
func CapabilitiesURL(baseURL, site string) string {
	return endpoint(baseURL, site) + "?service=wms&version=1.3.0&request=GetCapabilities"
}

// GetMapURL builds the image URL the map layer requests for one frame.
func GetMapURL(r GetMapRequest) string {
	q := url.Values{}
	q.Set("service", "WMS")
	q.Set("version", "1.3.0")
	q.Set("request", "GetMap")
	q.Set("layers", r.Layer)
	q.Set("styles", r.Style)
	q.Set("crs", "EPSG:3857")
	q.Set("bbox", r.BBox.String())
	q.Set("width", strconv.Itoa(r.Width))
	q.Set("height", strconv.Itoa(r.Height))
	q.Set("format", "image/png")
	q.Set("transparent", "true")
	if !r.Time.IsZero() {
		q.Set("TIME", r.Time.UTC().Format(time.RFC3339))
	}
	return endpoint(r.BaseURL, r.Site) + "?" + q.Encode()
}

func endpoint(baseURL, site string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(site) + "/ows"
}
