package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/twpayne/go-geom"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/schema"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustCreateLayer(t *testing.T, r *Repo, name string) *Layer {
	t.Helper()
	l := &Layer{Name: name, Title: name}
	if err := r.CreateLayer(context.Background(), l); err != nil {
		t.Fatalf("create layer %s: %v", name, err)
	}
	return l
}

func pointFeature(t *testing.T, layerID int64, fid string, x, y float64) Feature {
	t.Helper()
	wkb, err := geometry.EncodeWKB(geom.NewPointFlat(geom.XY, []float64{x, y}))
	if err != nil {
		t.Fatal(err)
	}
	f := Feature{
		LayerID:    layerID,
		FID:        fid,
		Geometry:   wkb,
		Properties: schema.Properties{"n": schema.Str(fid)},
	}
	f.SetBBox(geometry.BBox{MinX: x, MinY: y, MaxX: x, MaxY: y})
	return f
}

func TestCreateLayerDefaultsAndConflict(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	l := mustCreateLayer(t, r, "parks")
	if l.ID == 0 {
		t.Fatal("layer id not assigned")
	}

	got, err := r.LayerByName(ctx, "parks")
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if got.SRID != 4326 {
		t.Fatalf("default srid = %d", got.SRID)
	}
	if got.FeatureCount != 0 || got.GeometryType != "" {
		t.Fatalf("fresh layer has stats: %+v", got)
	}
	if len(got.AttributeSchema) != 0 {
		t.Fatalf("fresh layer has schema: %v", got.AttributeSchema)
	}

	err = r.CreateLayer(ctx, &Layer{Name: "parks"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate create err = %v, want ErrConflict", err)
	}
}

func TestLayerLookupNotFound(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.LayerByName(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("by name err = %v", err)
	}
	if _, err := r.LayerByID(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("by id err = %v", err)
	}
	if err := r.DeleteLayer(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete err = %v", err)
	}
}

func TestUniqueFIDPerLayer(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a := mustCreateLayer(t, r, "a")
	b := mustCreateLayer(t, r, "b")

	if err := r.InsertFeature(ctx, &Feature{LayerID: a.ID, FID: "f1", Properties: schema.Properties{}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// same fid in another layer is fine
	if err := r.InsertFeature(ctx, &Feature{LayerID: b.ID, FID: "f1", Properties: schema.Properties{}}); err != nil {
		t.Fatalf("insert other layer: %v", err)
	}
	// duplicate in the same layer is not
	if err := r.InsertFeature(ctx, &Feature{LayerID: a.ID, FID: "f1", Properties: schema.Properties{}}); err == nil {
		t.Fatal("duplicate fid accepted")
	}

	// the batch path skips duplicates silently
	feats := []Feature{
		pointFeature(t, a.ID, "f1", 0, 0),
		pointFeature(t, a.ID, "f2", 1, 1),
	}
	if err := r.InsertFeaturesIgnore(ctx, feats); err != nil {
		t.Fatalf("batch insert: %v", err)
	}
	_, total, err := r.QueryFeatures(ctx, a.ID, nil, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
}

func TestQueryFeaturesBBoxAndPaging(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	l := mustCreateLayer(t, r, "sites")

	feats := []Feature{
		pointFeature(t, l.ID, "p0", 0, 0),
		pointFeature(t, l.ID, "p1", 10, 10),
		pointFeature(t, l.ID, "p2", 50, 50),
	}
	if err := r.InsertFeaturesIgnore(ctx, feats); err != nil {
		t.Fatal(err)
	}

	got, total, err := r.QueryFeatures(ctx, l.ID, &geometry.BBox{MinX: 5, MinY: 5, MaxX: 20, MaxY: 20}, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(got) != 1 || got[0].FID != "p1" {
		t.Fatalf("bbox query: total=%d feats=%v", total, got)
	}

	// touching edges still match
	_, total, err = r.QueryFeatures(ctx, l.ID, &geometry.BBox{MinX: 10, MinY: 10, MaxX: 11, MaxY: 11}, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("edge-touching total = %d", total)
	}

	// paging is stable by insertion id
	page, total, err := r.QueryFeatures(ctx, l.ID, nil, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(page) != 2 || page[0].FID != "p1" || page[1].FID != "p2" {
		t.Fatalf("paging: total=%d page=%v", total, page)
	}

	// negative startindex clamps to zero
	page, _, err = r.QueryFeatures(ctx, l.ID, nil, 1, -5)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].FID != "p0" {
		t.Fatalf("clamped page = %v", page)
	}
}

func TestRefreshLayerStats(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	l := mustCreateLayer(t, r, "stats")

	feats := []Feature{
		pointFeature(t, l.ID, "a", -1, 2),
		pointFeature(t, l.ID, "b", 5, -3),
	}
	if err := r.InsertFeaturesIgnore(ctx, feats); err != nil {
		t.Fatal(err)
	}
	if err := r.RefreshLayerStats(ctx, l.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got, err := r.LayerByID(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FeatureCount != 2 {
		t.Fatalf("feature_count = %d", got.FeatureCount)
	}
	if got.GeometryType != "Point" {
		t.Fatalf("geometry_type = %q", got.GeometryType)
	}
	bbox, ok := got.BBox()
	if !ok {
		t.Fatal("layer bbox missing")
	}
	want := geometry.BBox{MinX: -1, MinY: -3, MaxX: 5, MaxY: 2}
	if bbox != want {
		t.Fatalf("bbox = %+v, want %+v", bbox, want)
	}

	// emptying the layer clears the aggregate
	if err := r.DeleteFeaturesByLayer(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.RefreshLayerStats(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	got, err = r.LayerByID(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FeatureCount != 0 {
		t.Fatalf("feature_count after clear = %d", got.FeatureCount)
	}
	if _, ok := got.BBox(); ok {
		t.Fatal("bbox should be null after clearing features")
	}
}

func TestUpdateFeatureAndDeleteByFIDs(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	l := mustCreateLayer(t, r, "roads")

	f := pointFeature(t, l.ID, "r1", 0, 0)
	if err := r.InsertFeature(ctx, &f); err != nil {
		t.Fatal(err)
	}

	row, err := r.FeatureByFID(ctx, l.ID, "r1")
	if err != nil {
		t.Fatal(err)
	}

	props := schema.Properties{"lanes": schema.Int(4), "n": schema.Str("r1")}
	newBBox := geometry.BBox{MinX: 0, MinY: 0, MaxX: 2, MaxY: 0}
	wkb, _ := geometry.EncodeWKB(geom.NewPointFlat(geom.XY, []float64{2, 0}))
	err = r.UpdateFeature(ctx, row.ID, FeaturePatch{Properties: &props, Geometry: wkb, BBox: &newBBox})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	row, err = r.FeatureByFID(ctx, l.ID, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(row.Properties, props) {
		t.Fatalf("properties = %#v", row.Properties)
	}
	if b, ok := row.BBox(); !ok || b != newBBox {
		t.Fatalf("bbox = %v %v", b, ok)
	}

	n, err := r.DeleteFeaturesByFIDs(ctx, l.ID, []string{"r1", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
}

func TestDeleteLayerCascades(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	l := mustCreateLayer(t, r, "doomed")

	f := pointFeature(t, l.ID, "x", 1, 1)
	if err := r.InsertFeature(ctx, &f); err != nil {
		t.Fatal(err)
	}
	rule := SymbologyRule{LayerID: l.ID, FilterOperator: "eq", FillColor: "#3388ff", StrokeColor: "#ffffff"}
	if err := r.CreateRule(ctx, &rule); err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteLayer(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.FeatureByFID(ctx, l.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("feature survived cascade: %v", err)
	}
	rules, err := r.RulesByLayer(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 0 {
		t.Fatalf("rules survived cascade: %v", rules)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	l := mustCreateLayer(t, r, "txn")

	sentinel := errors.New("boom")
	err := r.WithTx(ctx, func(tx *Repo) error {
		f := pointFeature(t, l.ID, "f1", 0, 0)
		if err := tx.InsertFeature(ctx, &f); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v", err)
	}
	if _, err := r.FeatureByFID(ctx, l.ID, "f1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("rollback did not discard the insert")
	}
}
