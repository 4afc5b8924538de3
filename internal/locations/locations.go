package locations

import (
	"fmt"
	"strings"
	"time"

	"github.com/Zachdehooge/radar-loop/internal/geo"
)

// HomeLocation is a named place shown with a marker on the map, together
// with the radar site that covers it.
type HomeLocation struct {
	Name      string  `json:"name" mapstructure:"name"`
	Lon       float64 `json:"lon" mapstructure:"lon"`
	Lat       float64 `json:"lat" mapstructure:"lat"`
	RadarSite string  `json:"radarSite" mapstructure:"radarSite"`
	TimeZone  string  `json:"timeZone" mapstructure:"timeZone"`
	Zoom      int     `json:"zoom" mapstructure:"zoom"`
}

// Defaults returns the built-in home locations. The first entry is used when
// no location is configured.
func Defaults() []HomeLocation {
	return []HomeLocation{
		{Name: "US", Lon: -100.1, Lat: 40.1, RadarSite: "conus", TimeZone: "America/Los_Angeles", Zoom: 4},
		{Name: "Dover", Lon: -121.97259, Lat: 36.99283, RadarSite: "kmux", TimeZone: "America/Los_Angeles", Zoom: 7},
		{Name: "Sue", Lon: -75.85384, Lat: 42.16405, RadarSite: "kbgm", TimeZone: "America/New_York", Zoom: 7},
		{Name: "Bob", Lon: -122.03546, Lat: 47.55889, RadarSite: "katx", TimeZone: "America/Los_Angeles", Zoom: 7},
		{Name: "Portland", Lon: -122.68334, Lat: 45.51689, RadarSite: "krtx", TimeZone: "America/Los_Angeles", Zoom: 7},
		{Name: "Franzi", Lon: -99.0684, Lat: 40.70204, RadarSite: "klnx", TimeZone: "America/Chicago", Zoom: 7},
	}
}

// Find looks up a location by name, ignoring case.
func Find(all []HomeLocation, name string) (HomeLocation, error) {
	for _, loc := range all {
		if strings.EqualFold(loc.Name, name) {
			return loc, nil
		}
	}
	return HomeLocation{}, fmt.Errorf("unknown home location %q", name)
}

// Names lists location names in order.
func Names(all []HomeLocation) []string {
	names := make([]string, 0, len(all))
	for _, loc := range all {
		names = append(names, loc.Name)
	}
	return names
}

// Marker3857 returns the marker position in web mercator.
func (l HomeLocation) Marker3857() geo.Point {
	return geo.To3857(l.Lon, l.Lat)
}

// Location loads the location's time zone, falling back to UTC.
func (l HomeLocation) Location() *time.Location {
	if l.TimeZone == "" {
		return time.UTC
	}
	tz, err := time.LoadLocation(l.TimeZone)
	if err != nil {
		return time.UTC
	}
	return tz
}
