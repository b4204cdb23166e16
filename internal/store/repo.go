package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/schema"
)

// Repo offers typed operations over the three entities. A Repo bound to a
// transaction (see WithTx) runs every operation inside it.
type Repo struct {
	q  sqlx.ExtContext
	db *sqlx.DB // nil when bound to a transaction
}

func New(db *DB) *Repo {
	return &Repo{q: db.DB, db: db.DB}
}

// WithTx runs fn inside a single transaction with all-or-nothing semantics.
// Calls on an already transactional Repo join the surrounding transaction.
func (r *Repo) WithTx(ctx context.Context, fn func(*Repo) error) error {
	if r.db == nil {
		return fn(r)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Repo{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ── Layers ──

func (r *Repo) CreateLayer(ctx context.Context, l *Layer) error {
	if l.SRID == 0 {
		l.SRID = 4326
	}
	if l.AttributeSchema == nil {
		l.AttributeSchema = schema.FieldTypes{}
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO layers (name, title, description, srid) VALUES (?, ?, ?, ?)`,
		l.Name, l.Title, l.Description, l.SRID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("layer %q: %w", l.Name, ErrConflict)
		}
		return err
	}
	l.ID, err = res.LastInsertId()
	return err
}

func (r *Repo) LayerByID(ctx context.Context, id int64) (*Layer, error) {
	var l Layer
	err := sqlx.GetContext(ctx, r.q, &l, `SELECT * FROM layers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("layer %d: %w", id, ErrNotFound)
	}
	return &l, err
}

func (r *Repo) LayerByName(ctx context.Context, name string) (*Layer, error) {
	var l Layer
	err := sqlx.GetContext(ctx, r.q, &l, `SELECT * FROM layers WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("layer %q: %w", name, ErrNotFound)
	}
	return &l, err
}

func (r *Repo) Layers(ctx context.Context) ([]Layer, error) {
	var ls []Layer
	err := sqlx.SelectContext(ctx, r.q, &ls, `SELECT * FROM layers ORDER BY name`)
	return ls, err
}

// LayersNewestFirst is the admin listing order.
func (r *Repo) LayersNewestFirst(ctx context.Context) ([]Layer, error) {
	var ls []Layer
	err := sqlx.SelectContext(ctx, r.q, &ls, `SELECT * FROM layers ORDER BY created_at DESC`)
	return ls, err
}

func (r *Repo) LayersByNames(ctx context.Context, names []string) ([]Layer, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM layers WHERE name IN (?) ORDER BY name`, names)
	if err != nil {
		return nil, err
	}
	var ls []Layer
	err = sqlx.SelectContext(ctx, r.q, &ls, r.q.Rebind(query), args...)
	return ls, err
}

// PatchLayer updates title and/or description; nil fields are left alone.
func (r *Repo) PatchLayer(ctx context.Context, id int64, title, description *string) error {
	sets := []string{"updated_at = datetime('now')"}
	args := []any{}
	if title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *title)
	}
	if description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *description)
	}
	args = append(args, id)
	res, err := r.q.ExecContext(ctx,
		`UPDATE layers SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("layer %d: %w", id, ErrNotFound)
	}
	return err
}

// DeleteLayer removes the layer; features and symbology rules go with it via
// the cascade constraints.
func (r *Repo) DeleteLayer(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM layers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("layer %d: %w", id, ErrNotFound)
	}
	return err
}

// RefreshLayerStats recomputes feature_count and the aggregate bbox, and
// fills geometry_type from one stored geometry when it is still unset.
func (r *Repo) RefreshLayerStats(ctx context.Context, layerID int64) error {
	var agg struct {
		Cnt  int64    `db:"cnt"`
		MinX *float64 `db:"minx"`
		MinY *float64 `db:"miny"`
		MaxX *float64 `db:"maxx"`
		MaxY *float64 `db:"maxy"`
	}
	err := sqlx.GetContext(ctx, r.q, &agg,
		`SELECT COUNT(*) AS cnt,
		        MIN(bbox_minx) AS minx, MIN(bbox_miny) AS miny,
		        MAX(bbox_maxx) AS maxx, MAX(bbox_maxy) AS maxy
		 FROM features WHERE layer_id = ?`, layerID)
	if err != nil {
		return err
	}

	geomType := ""
	var sample []byte
	err = sqlx.GetContext(ctx, r.q, &sample,
		`SELECT geometry FROM features WHERE layer_id = ? AND geometry IS NOT NULL LIMIT 1`, layerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if len(sample) > 0 {
		if g, derr := geometry.DecodeWKB(sample); derr == nil {
			geomType = geometry.TypeName(g)
		}
	}

	_, err = r.q.ExecContext(ctx,
		`UPDATE layers SET
		    feature_count = ?,
		    bbox_minx = ?, bbox_miny = ?, bbox_maxx = ?, bbox_maxy = ?,
		    geometry_type = CASE WHEN geometry_type = '' THEN ? ELSE geometry_type END,
		    updated_at = datetime('now')
		 WHERE id = ?`,
		agg.Cnt, agg.MinX, agg.MinY, agg.MaxX, agg.MaxY, geomType, layerID)
	return err
}

func (r *Repo) UpdateAttributeSchema(ctx context.Context, layerID int64, ft schema.FieldTypes) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE layers SET attribute_schema = ? WHERE id = ?`, ft, layerID)
	return err
}

// ── Features ──

// InsertFeaturesIgnore bulk-inserts one chunk with insert-or-ignore
// semantics: rows colliding on (layer_id, fid) are silently skipped.
func (r *Repo) InsertFeaturesIgnore(ctx context.Context, feats []Feature) error {
	if len(feats) == 0 {
		return nil
	}
	_, err := sqlx.NamedExecContext(ctx, r.q,
		`INSERT OR IGNORE INTO features
		    (layer_id, fid, geometry, properties, bbox_minx, bbox_miny, bbox_maxx, bbox_maxy)
		 VALUES
		    (:layer_id, :fid, :geometry, :properties, :bbox_minx, :bbox_miny, :bbox_maxx, :bbox_maxy)`,
		feats)
	return err
}

func (r *Repo) InsertFeature(ctx context.Context, f *Feature) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO features
		    (layer_id, fid, geometry, properties, bbox_minx, bbox_miny, bbox_maxx, bbox_maxy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.LayerID, f.FID, f.Geometry, f.Properties,
		f.BBoxMinX, f.BBoxMinY, f.BBoxMaxX, f.BBoxMaxY)
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

// QueryFeatures returns one page of a layer's features plus the total match
// count before paging. The bbox predicate keeps any feature whose bbox
// overlaps the query box.
func (r *Repo) QueryFeatures(ctx context.Context, layerID int64, bbox *geometry.BBox, limit, offset int) ([]Feature, int64, error) {
	where := `FROM features WHERE layer_id = ?`
	args := []any{layerID}
	if bbox != nil {
		where += ` AND NOT (bbox_maxx < ? OR bbox_minx > ? OR bbox_maxy < ? OR bbox_miny > ?)`
		args = append(args, bbox.MinX, bbox.MaxX, bbox.MinY, bbox.MaxY)
	}

	var total int64
	if err := sqlx.GetContext(ctx, r.q, &total, `SELECT COUNT(*) `+where, args...); err != nil {
		return nil, 0, err
	}

	if offset < 0 {
		offset = 0
	}
	var feats []Feature
	err := sqlx.SelectContext(ctx, r.q, &feats,
		`SELECT * `+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	return feats, total, err
}

func (r *Repo) FeatureByFID(ctx context.Context, layerID int64, fid string) (*Feature, error) {
	var f Feature
	err := sqlx.GetContext(ctx, r.q, &f,
		`SELECT * FROM features WHERE layer_id = ? AND fid = ?`, layerID, fid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feature %q: %w", fid, ErrNotFound)
	}
	return &f, err
}

// FeaturePatch carries the column updates for one feature row. Geometry and
// BBox travel together.
type FeaturePatch struct {
	Properties *schema.Properties
	Geometry   []byte
	BBox       *geometry.BBox
}

func (r *Repo) UpdateFeature(ctx context.Context, featureID int64, patch FeaturePatch) error {
	var sets []string
	var args []any
	if patch.Properties != nil {
		sets = append(sets, "properties = ?")
		args = append(args, *patch.Properties)
	}
	if patch.Geometry != nil && patch.BBox != nil {
		sets = append(sets, "geometry = ?", "bbox_minx = ?", "bbox_miny = ?", "bbox_maxx = ?", "bbox_maxy = ?")
		args = append(args, patch.Geometry, patch.BBox.MinX, patch.BBox.MinY, patch.BBox.MaxX, patch.BBox.MaxY)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, featureID)
	_, err := r.q.ExecContext(ctx,
		`UPDATE features SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return err
}

func (r *Repo) DeleteFeaturesByFIDs(ctx context.Context, layerID int64, fids []string) (int64, error) {
	if len(fids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM features WHERE layer_id = ? AND fid IN (?)`, layerID, fids)
	if err != nil {
		return 0, err
	}
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) DeleteFeaturesByLayer(ctx context.Context, layerID int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM features WHERE layer_id = ?`, layerID)
	return err
}

// SampleProperties returns up to limit property maps for schema inference.
func (r *Repo) SampleProperties(ctx context.Context, layerID int64, limit int) ([]schema.Properties, error) {
	var raw []schema.Properties
	err := sqlx.SelectContext(ctx, r.q, &raw,
		`SELECT properties FROM features WHERE layer_id = ? LIMIT ?`, layerID, limit)
	return raw, err
}

// ── Symbology rules ──

func (r *Repo) RulesByLayer(ctx context.Context, layerID int64) ([]SymbologyRule, error) {
	var rules []SymbologyRule
	err := sqlx.SelectContext(ctx, r.q, &rules,
		`SELECT * FROM symbology_rules WHERE layer_id = ? ORDER BY rule_order, id`, layerID)
	return rules, err
}

func (r *Repo) CreateRule(ctx context.Context, rule *SymbologyRule) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO symbology_rules
		    (layer_id, rule_order, label, filter_field, filter_operator, filter_value,
		     fill_color, fill_opacity, stroke_color, stroke_width, point_radius, is_default)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.LayerID, rule.RuleOrder, rule.Label, rule.FilterField, rule.FilterOperator,
		rule.FilterValue, rule.FillColor, rule.FillOpacity, rule.StrokeColor,
		rule.StrokeWidth, rule.PointRadius, rule.IsDefault)
	if err != nil {
		return err
	}
	rule.ID, err = res.LastInsertId()
	return err
}

func (r *Repo) UpdateRule(ctx context.Context, rule *SymbologyRule) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE symbology_rules SET
		    rule_order = ?, label = ?, filter_field = ?, filter_operator = ?,
		    filter_value = ?, fill_color = ?, fill_opacity = ?, stroke_color = ?,
		    stroke_width = ?, point_radius = ?, is_default = ?
		 WHERE id = ? AND layer_id = ?`,
		rule.RuleOrder, rule.Label, rule.FilterField, rule.FilterOperator,
		rule.FilterValue, rule.FillColor, rule.FillOpacity, rule.StrokeColor,
		rule.StrokeWidth, rule.PointRadius, rule.IsDefault, rule.ID, rule.LayerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("rule %d: %w", rule.ID, ErrNotFound)
	}
	return err
}

func (r *Repo) DeleteRulesByLayer(ctx context.Context, layerID int64) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM symbology_rules WHERE layer_id = ?`, layerID)
	return err
}

// SetRuleOrder moves one rule to position pos within its layer.
func (r *Repo) SetRuleOrder(ctx context.Context, layerID, ruleID int64, pos int) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE symbology_rules SET rule_order = ? WHERE id = ? AND layer_id = ?`,
		pos, ruleID, layerID)
	return err
}

func (r *Repo) DeleteRule(ctx context.Context, layerID, ruleID int64) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM symbology_rules WHERE id = ? AND layer_id = ?`, ruleID, layerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("rule %d: %w", ruleID, ErrNotFound)
	}
	return err
}
