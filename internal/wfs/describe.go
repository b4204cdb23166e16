package wfs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mvonw/WFSFeatureServer/internal/schema"
	"github.com/mvonw/WFSFeatureServer/internal/store"
)

// gmlPropertyTypes maps a layer's geometry type to the GML property type
// declared for its geometry element.
var gmlPropertyTypes = map[string]string{
	"Point":              "gml:PointPropertyType",
	"MultiPoint":         "gml:MultiPointPropertyType",
	"LineString":         "gml:CurvePropertyType",
	"MultiLineString":    "gml:MultiCurvePropertyType",
	"Polygon":            "gml:SurfacePropertyType",
	"MultiPolygon":       "gml:MultiSurfacePropertyType",
	"GeometryCollection": "gml:GeometryPropertyType",
}

var xsdTypes = map[schema.FieldType]string{
	schema.FieldString:  "xsd:string",
	schema.FieldInteger: "xsd:long",
	schema.FieldReal:    "xsd:double",
	schema.FieldDate:    "xsd:date",
}

func gmlPropertyType(geometryType string) string {
	if t, ok := gmlPropertyTypes[geometryType]; ok {
		return t
	}
	return "gml:GeometryPropertyType"
}

func xsdType(ft schema.FieldType) string {
	if t, ok := xsdTypes[ft]; ok {
		return t
	}
	return "xsd:string"
}

// DescribeFeatureType emits an XML Schema for the named layers, or for all
// layers when typenames is empty. Naming an unknown layer is an error.
func (s *Service) DescribeFeatureType(ctx context.Context, typenames string) ([]byte, error) {
	var (
		layers []store.Layer
		err    error
	)
	if names := splitTypeNames(typenames); len(names) > 0 {
		layers, err = s.repo.LayersByNames(ctx, names)
		if err != nil {
			return nil, err
		}
		found := map[string]bool{}
		for i := range layers {
			found[layers[i].Name] = true
		}
		for _, n := range names {
			if !found[n] {
				return nil, fmt.Errorf("layer %q: %w", n, store.ErrNotFound)
			}
		}
	} else {
		layers, err = s.repo.Layers(ctx)
		if err != nil {
			return nil, err
		}
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<xsd:schema xmlns:xsd="http://www.w3.org/2001/XMLSchema"`)
	b.WriteString(` xmlns:gml="` + nsGML + `" elementFormDefault="qualified">`)
	b.WriteString(`<xsd:import namespace="` + nsGML + `"/>`)

	for i := range layers {
		l := &layers[i]
		name := safeTag(l.Name)
		b.WriteString(`<xsd:element name="` + name + `" type="` + name + `Type" substitutionGroup="gml:AbstractFeature"/>`)
		b.WriteString(`<xsd:complexType name="` + name + `Type">`)
		b.WriteString(`<xsd:complexContent><xsd:extension base="gml:AbstractFeatureType"><xsd:sequence>`)
		b.WriteString(`<xsd:element name="geometry" type="` + gmlPropertyType(l.GeometryType) + `" minOccurs="0"/>`)
		for _, field := range sortedFields(l.AttributeSchema) {
			b.WriteString(`<xsd:element name="` + safeTag(field) + `" type="` + xsdType(l.AttributeSchema[field]) + `" minOccurs="0"/>`)
		}
		b.WriteString(`</xsd:sequence></xsd:extension></xsd:complexContent>`)
		b.WriteString(`</xsd:complexType>`)
	}

	b.WriteString(`</xsd:schema>`)
	return []byte(b.String()), nil
}

func sortedFields(ft schema.FieldTypes) []string {
	out := make([]string, 0, len(ft))
	for k := range ft {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
