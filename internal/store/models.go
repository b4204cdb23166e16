package store

import (
	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/schema"
)

// Layer is a WFS feature type. geometry_type stays empty until the first
// ingest discovers it.
type Layer struct {
	ID              int64             `db:"id"`
	Name            string            `db:"name"`
	Title           string            `db:"title"`
	Description     string            `db:"description"`
	GeometryType    string            `db:"geometry_type"`
	SRID            int               `db:"srid"`
	BBoxMinX        *float64          `db:"bbox_minx"`
	BBoxMinY        *float64          `db:"bbox_miny"`
	BBoxMaxX        *float64          `db:"bbox_maxx"`
	BBoxMaxY        *float64          `db:"bbox_maxy"`
	FeatureCount    int64             `db:"feature_count"`
	AttributeSchema schema.FieldTypes `db:"attribute_schema"`
	CreatedAt       string            `db:"created_at"`
	UpdatedAt       string            `db:"updated_at"`
}

// BBox returns the layer bbox if all four columns are set.
func (l *Layer) BBox() (geometry.BBox, bool) {
	if l.BBoxMinX == nil || l.BBoxMinY == nil || l.BBoxMaxX == nil || l.BBoxMaxY == nil {
		return geometry.BBox{}, false
	}
	return geometry.BBox{MinX: *l.BBoxMinX, MinY: *l.BBoxMinY, MaxX: *l.BBoxMaxX, MaxY: *l.BBoxMaxY}, true
}

// Feature geometry is WKB in the storage CRS; bbox columns mirror its
// bounds and are null exactly when geometry is null.
type Feature struct {
	ID         int64             `db:"id"`
	LayerID    int64             `db:"layer_id"`
	FID        string            `db:"fid"`
	Geometry   []byte            `db:"geometry"`
	Properties schema.Properties `db:"properties"`
	BBoxMinX   *float64          `db:"bbox_minx"`
	BBoxMinY   *float64          `db:"bbox_miny"`
	BBoxMaxX   *float64          `db:"bbox_maxx"`
	BBoxMaxY   *float64          `db:"bbox_maxy"`
}

// SetBBox fills the bbox columns from b.
func (f *Feature) SetBBox(b geometry.BBox) {
	f.BBoxMinX, f.BBoxMinY, f.BBoxMaxX, f.BBoxMaxY = &b.MinX, &b.MinY, &b.MaxX, &b.MaxY
}

func (f *Feature) BBox() (geometry.BBox, bool) {
	if f.BBoxMinX == nil || f.BBoxMinY == nil || f.BBoxMaxX == nil || f.BBoxMaxY == nil {
		return geometry.BBox{}, false
	}
	return geometry.BBox{MinX: *f.BBoxMinX, MinY: *f.BBoxMinY, MaxX: *f.BBoxMaxX, MaxY: *f.BBoxMaxY}, true
}

// SymbologyRule is managed by the admin surface; the core only guarantees
// it is removed with its layer.
type SymbologyRule struct {
	ID             int64    `db:"id"`
	LayerID        int64    `db:"layer_id"`
	RuleOrder      int      `db:"rule_order"`
	Label          string   `db:"label"`
	FilterField    *string  `db:"filter_field"`
	FilterOperator string   `db:"filter_operator"`
	FilterValue    *string  `db:"filter_value"`
	FillColor      string   `db:"fill_color"`
	FillOpacity    float64  `db:"fill_opacity"`
	StrokeColor    string   `db:"stroke_color"`
	StrokeWidth    float64  `db:"stroke_width"`
	PointRadius    float64  `db:"point_radius"`
	IsDefault      bool     `db:"is_default"`
}
