package wms

import "encoding/xml"

// capabilitiesDoc mirrors the parts of an OGC WMS 1.3.0 GetCapabilities
// response that are read. Unqualified tags match the default WMS namespace.
type capabilitiesDoc struct {
	XMLName    xml.Name       `xml:"WMS_Capabilities"`
	Version    string         `xml:"version,attr"`
	Capability capabilityNode `xml:"Capability"`
}

type capabilityNode struct {
	Layer rootLayer `xml:"Layer"`
}

// rootLayer is the top-level layer that groups the named layers.
type rootLayer struct {
	Title  string      `xml:"Title"`
	Layers []layerNode `xml:"Layer"`
}

type layerNode struct {
	Queryable     string            `xml:"queryable,attr"`
	Name          string            `xml:"Name"`
	Title         string            `xml:"Title"`
	Abstract      string            `xml:"Abstract"`
	CRS           []string          `xml:"CRS"`
	BoundingBoxes []boundingBoxNode `xml:"BoundingBox"`
	Dimensions    []dimensionNode   `xml:"Dimension"`
	Styles        []styleNode       `xml:"Style"`
}

type boundingBoxNode struct {
	CRS  string  `xml:"CRS,attr"`
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

type dimensionNode struct {
	Name    string `xml:"name,attr"`
	Units   string `xml:"units,attr"`
	Default string `xml:"default,attr"`
	Values  string `xml:",chardata"`
}

type styleNode struct {
	Name       string          `xml:"Name"`
	Title      string          `xml:"Title"`
	LegendURLs []legendURLNode `xml:"LegendURL"`
}

type legendURLNode struct {
	Width          int                `xml:"width,attr"`
	Height         int                `xml:"height,attr"`
	Format         string             `xml:"Format"`
	OnlineResource onlineResourceNode `xml:"OnlineResource"`
}

type onlineResourceNode struct {
	Href string `xml:"href,attr"`
}
