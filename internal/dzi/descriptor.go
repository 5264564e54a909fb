package dzi

import (
	"bytes"
	"encoding/xml"
)

const xmlns = "http://schemas.microsoft.com/deepzoom/2008"

// Descriptor is the DZI metadata artifact. Its presence in the cache is the
// authoritative "conversion complete" marker; everything a viewer needs to
// address tiles is in here.
type Descriptor struct {
	XMLName  xml.Name `xml:"Image"`
	Xmlns    string   `xml:"xmlns,attr"`
	Format   string   `xml:"Format,attr"`
	Overlap  int      `xml:"Overlap,attr"`
	TileSize int      `xml:"TileSize,attr"`
	Size     Size     `xml:"Size"`
}

type Size struct {
	Width  int `xml:"Width,attr"`
	Height int `xml:"Height,attr"`
}

// NewDescriptor builds the descriptor for a completed pyramid.
func NewDescriptor(plan *PyramidPlan, format string) *Descriptor {
	return &Descriptor{
		Xmlns:    xmlns,
		Format:   format,
		Overlap:  plan.Overlap,
		TileSize: plan.TileSize,
		Size: Size{
			Width:  plan.Width,
			Height: plan.Height,
		},
	}
}

// Marshal renders the descriptor as a DZI XML document.
func (d *Descriptor) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ParseDescriptor reads a DZI XML document back into a Descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := xml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
