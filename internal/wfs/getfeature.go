package wfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/schema"
	"github.com/mvonw/WFSFeatureServer/internal/store"
)

// FeatureQuery is a parsed GetFeature request. Count nil means "server
// maximum", negative Count yields an empty page; StartIndex below zero is
// clamped.
type FeatureQuery struct {
	TypeNames  string
	BBox       *geometry.BBox
	Count      *int
	StartIndex int
}

// page resolves the layer and fetches one page of features plus the total
// match count. A nil layer means the name is unknown: GetFeature answers
// with an empty collection, not an error.
func (s *Service) page(ctx context.Context, q FeatureQuery) (*store.Layer, []store.Feature, int64, error) {
	names := splitTypeNames(q.TypeNames)
	if len(names) == 0 {
		return nil, nil, 0, nil
	}
	layer, err := s.repo.LayerByName(ctx, names[0])
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, 0, nil
	}
	if err != nil {
		return nil, nil, 0, err
	}

	limit := s.maxFeatures
	if q.Count != nil {
		switch c := *q.Count; {
		case c < 0:
			limit = 0
		case c < limit:
			limit = c
		}
	}
	feats, total, err := s.repo.QueryFeatures(ctx, layer.ID, q.BBox, limit, q.StartIndex)
	if err != nil {
		return nil, nil, 0, err
	}
	return layer, feats, total, nil
}

// ── GeoJSON output ──

type featureJSON struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Geometry   json.RawMessage   `json:"geometry"`
	Properties schema.Properties `json:"properties"`
}

type collectionJSON struct {
	Type           string        `json:"type"`
	NumberMatched  int64         `json:"numberMatched"`
	NumberReturned int           `json:"numberReturned"`
	TimeStamp      string        `json:"timeStamp,omitempty"`
	Features       []featureJSON `json:"features"`
}

// GetFeatureGeoJSON renders one feature page as a GeoJSON
// FeatureCollection. Undecodable geometries degrade to null rather than
// failing the request.
func (s *Service) GetFeatureGeoJSON(ctx context.Context, q FeatureQuery) ([]byte, error) {
	layer, feats, total, err := s.page(ctx, q)
	if err != nil {
		return nil, err
	}
	if layer == nil {
		return json.Marshal(collectionJSON{Type: "FeatureCollection", Features: []featureJSON{}})
	}

	out := collectionJSON{
		Type:           "FeatureCollection",
		NumberMatched:  total,
		NumberReturned: len(feats),
		TimeStamp:      nowISO(),
		Features:       make([]featureJSON, 0, len(feats)),
	}
	for i := range feats {
		f := &feats[i]
		var geomJSON json.RawMessage
		if len(f.Geometry) > 0 {
			if g, err := geometry.DecodeWKB(f.Geometry); err == nil {
				geomJSON, _ = geometry.ToGeoJSON(g)
			}
		}
		props := f.Properties
		if props == nil {
			props = schema.Properties{}
		}
		out.Features = append(out.Features, featureJSON{
			Type:       "Feature",
			ID:         fmt.Sprintf("%s.%s", layer.Name, f.FID),
			Geometry:   geomJSON,
			Properties: props,
		})
	}
	return json.Marshal(out)
}

// ── GML output ──

// GetFeatureGML renders one feature page as a wfs:FeatureCollection in
// GML 3.2.
func (s *Service) GetFeatureGML(ctx context.Context, q FeatureQuery) ([]byte, error) {
	layer, feats, total, err := s.page(ctx, q)
	if err != nil {
		return nil, err
	}
	if layer == nil {
		return emptyGMLCollection(), nil
	}

	srs := fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", layer.SRID)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<wfs:FeatureCollection`)
	b.WriteString(` xmlns:wfs="` + nsWFS + `"`)
	b.WriteString(` xmlns:gml="` + nsGML + `"`)
	b.WriteString(` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"`)
	b.WriteString(fmt.Sprintf(` numberMatched="%d" numberReturned="%d" timeStamp="%s">`,
		total, len(feats), nowISO()))

	writeBoundedBy(&b, layer, srs)

	tag := safeTag(layer.Name)
	for i := range feats {
		f := &feats[i]
		b.WriteString(`<wfs:member>`)
		b.WriteString(fmt.Sprintf(`<%s gml:id="%s.%s">`, tag, layer.Name, f.FID))
		if len(f.Geometry) > 0 {
			if g, err := geometry.DecodeWKB(f.Geometry); err == nil {
				if gml, err := geometry.GML(g, layer.SRID); err == nil {
					b.WriteString(`<geometry>` + gml + `</geometry>`)
				}
			}
		}
		for _, k := range f.Properties.SortedKeys() {
			t := safeTag(k)
			b.WriteString(`<` + t + `>` + xmlEscape(f.Properties[k].Text()) + `</` + t + `>`)
		}
		b.WriteString(`</` + tag + `>`)
		b.WriteString(`</wfs:member>`)
	}

	b.WriteString(`</wfs:FeatureCollection>`)
	return []byte(b.String()), nil
}

func emptyGMLCollection() []byte {
	return []byte(fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?>`+
			`<wfs:FeatureCollection xmlns:wfs="%s" xmlns:gml="%s" `+
			`numberMatched="0" numberReturned="0" timeStamp="%s"/>`,
		nsWFS, nsGML, nowISO()))
}

// writeBoundedBy emits gml:boundedBy from the layer bbox, swapping to
// lat,lon order for EPSG:4326. Layers without a bbox emit nothing.
func writeBoundedBy(b *strings.Builder, layer *store.Layer, srs string) {
	bbox, ok := layer.BBox()
	if !ok {
		return
	}
	lcx, lcy := bbox.MinX, bbox.MinY
	ucx, ucy := bbox.MaxX, bbox.MaxY
	if strings.Contains(srs, "EPSG::4326") {
		lcx, lcy = lcy, lcx
		ucx, ucy = ucy, ucx
	}
	b.WriteString(`<gml:boundedBy><gml:Envelope srsName="` + srs + `">`)
	b.WriteString(fmt.Sprintf(`<gml:lowerCorner>%g %g</gml:lowerCorner>`, lcx, lcy))
	b.WriteString(fmt.Sprintf(`<gml:upperCorner>%g %g</gml:upperCorner>`, ucx, ucy))
	b.WriteString(`</gml:Envelope></gml:boundedBy>`)
}
