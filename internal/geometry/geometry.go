// Package geometry converts between the internal geometry representation
// (go-geom, always lon/lat XY in storage) and the wire encodings used by the
// server: WKB for the feature store, GML 3.2 for WFS XML payloads and
// GeoJSON for the JSON output branch. Axis order is a property of the
// protocol boundary: EPSG:4326 GML swaps to lat/lon, everything else and
// GeoJSON stays x/y.
package geometry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
)

var (
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
	ErrMalformedGML        = errors.New("malformed GML")
	ErrUnknownCRS          = errors.New("unknown CRS")
)

// BBox is an axis-aligned bounding box in the internal x/y convention.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b BBox) Union(o BBox) BBox {
	if o.MinX < b.MinX {
		b.MinX = o.MinX
	}
	if o.MinY < b.MinY {
		b.MinY = o.MinY
	}
	if o.MaxX > b.MaxX {
		b.MaxX = o.MaxX
	}
	if o.MaxY > b.MaxY {
		b.MaxY = o.MaxY
	}
	return b
}

// EncodeWKB serialises a geometry to little-endian WKB. The SRID is not
// embedded; it travels with the owning layer.
func EncodeWKB(g geom.T) ([]byte, error) {
	return wkb.Marshal(g, binary.LittleEndian)
}

func DecodeWKB(data []byte) (geom.T, error) {
	return wkb.Unmarshal(data)
}

// BoundsOf returns the inclusive bounds of g. A single point yields
// MinX==MaxX and MinY==MaxY.
func BoundsOf(g geom.T) BBox {
	b := g.Bounds()
	return BBox{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// ToGeoJSON returns the canonical GeoJSON object for g, lon/lat order.
func ToGeoJSON(g geom.T) (json.RawMessage, error) {
	return geojson.Marshal(g)
}

func FromGeoJSON(raw json.RawMessage) (geom.T, error) {
	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("%w: empty GeoJSON geometry", ErrUnsupportedGeometry)
	}
	return g, nil
}

// TypeName reports the GeoJSON/GML class name of g, e.g. "Point".
func TypeName(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "Point"
	case *geom.LineString:
		return "LineString"
	case *geom.Polygon:
		return "Polygon"
	case *geom.MultiPoint:
		return "MultiPoint"
	case *geom.MultiLineString:
		return "MultiLineString"
	case *geom.MultiPolygon:
		return "MultiPolygon"
	case *geom.GeometryCollection:
		return "GeometryCollection"
	default:
		return ""
	}
}
