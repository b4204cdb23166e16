package wfs

import (
	"context"
	"fmt"
	"strings"
)

var capabilityOperations = []string{
	"GetCapabilities", "DescribeFeatureType", "GetFeature", "Transaction",
}

var outputFormats = []string{
	"application/gml+xml; version=3.2", "application/json",
}

// GetCapabilities enumerates all layers ordered by name and renders the
// capabilities document.
func (s *Service) GetCapabilities(ctx context.Context) ([]byte, error) {
	layers, err := s.repo.Layers(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<wfs:WFS_Capabilities version="2.0.0"`)
	b.WriteString(` xmlns:wfs="` + nsWFS + `"`)
	b.WriteString(` xmlns:ows="` + nsOWS + `"`)
	b.WriteString(` xmlns:gml="` + nsGML + `"`)
	b.WriteString(` xmlns:fes="` + nsFES + `"`)
	b.WriteString(` xmlns:xlink="http://www.w3.org/1999/xlink">`)

	b.WriteString(`<ows:ServiceIdentification>`)
	b.WriteString(`<ows:Title>` + xmlEscape(s.info.Title) + `</ows:Title>`)
	b.WriteString(`<ows:Abstract>` + xmlEscape(s.info.Abstract) + `</ows:Abstract>`)
	b.WriteString(`<ows:ServiceType codeSpace="OGC">WFS</ows:ServiceType>`)
	b.WriteString(`<ows:ServiceTypeVersion>2.0.0</ows:ServiceTypeVersion>`)
	b.WriteString(`</ows:ServiceIdentification>`)

	b.WriteString(`<ows:OperationsMetadata>`)
	for _, op := range capabilityOperations {
		b.WriteString(`<ows:Operation name="` + op + `">`)
		b.WriteString(`<ows:DCP><ows:HTTP>`)
		b.WriteString(`<ows:Get xlink:href="` + xmlEscape(s.info.URL) + `"/>`)
		b.WriteString(`<ows:Post xlink:href="` + xmlEscape(s.info.URL) + `"/>`)
		b.WriteString(`</ows:HTTP></ows:DCP>`)
		b.WriteString(`</ows:Operation>`)
	}
	b.WriteString(`<ows:Parameter name="outputFormat"><ows:AllowedValues>`)
	for _, f := range outputFormats {
		b.WriteString(`<ows:Value>` + xmlEscape(f) + `</ows:Value>`)
	}
	b.WriteString(`</ows:AllowedValues></ows:Parameter>`)
	b.WriteString(`</ows:OperationsMetadata>`)

	b.WriteString(`<wfs:FeatureTypeList>`)
	for i := range layers {
		l := &layers[i]
		b.WriteString(`<wfs:FeatureType>`)
		b.WriteString(`<wfs:Name>` + xmlEscape(l.Name) + `</wfs:Name>`)
		title := l.Title
		if title == "" {
			title = l.Name
		}
		b.WriteString(`<wfs:Title>` + xmlEscape(title) + `</wfs:Title>`)
		b.WriteString(`<wfs:Abstract>` + xmlEscape(l.Description) + `</wfs:Abstract>`)
		b.WriteString(fmt.Sprintf(`<wfs:DefaultCRS>urn:ogc:def:crs:EPSG::%d</wfs:DefaultCRS>`, l.SRID))
		if bbox, ok := l.BBox(); ok {
			// ows:WGS84BoundingBox corners are lon lat by definition.
			b.WriteString(`<ows:WGS84BoundingBox>`)
			b.WriteString(fmt.Sprintf(`<ows:LowerCorner>%g %g</ows:LowerCorner>`, bbox.MinX, bbox.MinY))
			b.WriteString(fmt.Sprintf(`<ows:UpperCorner>%g %g</ows:UpperCorner>`, bbox.MaxX, bbox.MaxY))
			b.WriteString(`</ows:WGS84BoundingBox>`)
		}
		b.WriteString(`</wfs:FeatureType>`)
	}
	b.WriteString(`</wfs:FeatureTypeList>`)

	b.WriteString(`</wfs:WFS_Capabilities>`)
	return []byte(b.String()), nil
}
