package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mvonw/WFSFeatureServer/internal/schema"
	"github.com/mvonw/WFSFeatureServer/internal/store"
)

func newTestImporter(t *testing.T) (*Importer, *store.Repo) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := store.New(db)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, log), repo
}

func createLayer(t *testing.T, repo *store.Repo, name string) *store.Layer {
	t.Helper()
	l := &store.Layer{Name: name, Title: name}
	if err := repo.CreateLayer(context.Background(), l); err != nil {
		t.Fatalf("create layer: %v", err)
	}
	return l
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportGeoJSON(t *testing.T) {
	im, repo := newTestImporter(t)
	ctx := context.Background()
	layer := createLayer(t, repo, "parks")

	path := writeTemp(t, "parks.geojson", `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "id": "p1",
			 "geometry": {"type": "Point", "coordinates": [10.5, 20.25]},
			 "properties": {"name": "Alpha", "cnt": 3}}
		]
	}`)

	res, err := im.Import(ctx, path, layer.ID, Options{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || res.Failed != 0 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if !reflect.DeepEqual(res.BBox, []float64{10.5, 20.25, 10.5, 20.25}) {
		t.Fatalf("bbox = %v", res.BBox)
	}

	got, err := repo.LayerByID(ctx, layer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FeatureCount != 1 || got.GeometryType != "Point" {
		t.Fatalf("layer stats = %+v", got)
	}
	wantSchema := schema.FieldTypes{"name": schema.FieldString, "cnt": schema.FieldInteger}
	if !reflect.DeepEqual(got.AttributeSchema, wantSchema) {
		t.Fatalf("schema = %v", got.AttributeSchema)
	}

	feat, err := repo.FeatureByFID(ctx, layer.ID, "p1")
	if err != nil {
		t.Fatalf("feature by fid: %v", err)
	}
	if feat.Properties["name"] != schema.Str("Alpha") || feat.Properties["cnt"] != schema.Int(3) {
		t.Fatalf("properties = %#v", feat.Properties)
	}
}

func TestImportGeoJSONSingleFeatureAndNullGeometry(t *testing.T) {
	im, repo := newTestImporter(t)
	ctx := context.Background()
	layer := createLayer(t, repo, "single")

	path := writeTemp(t, "one.json", `{
		"type": "Feature",
		"geometry": {"type": "Point", "coordinates": [1, 2]},
		"properties": {}
	}`)
	res, err := im.Import(ctx, path, layer.ID, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 1 {
		t.Fatalf("imported = %d", res.Imported)
	}

	// a feature with null geometry is reported, not fatal
	path = writeTemp(t, "null.geojson", `{
		"type": "FeatureCollection",
		"features": [{"type": "Feature", "geometry": null, "properties": {"a": 1}}]
	}`)
	res, err = im.Import(ctx, path, layer.ID, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 0 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Errors[0] != "Feature 0: null geometry" {
		t.Fatalf("error message = %q", res.Errors[0])
	}
}

func TestImportGeoJSONInvalidDocument(t *testing.T) {
	im, repo := newTestImporter(t)
	layer := createLayer(t, repo, "bad")

	path := writeTemp(t, "bad.geojson", `{"type": "Polygon", "coordinates": []}`)
	if _, err := im.Import(context.Background(), path, layer.ID, Options{}); err == nil {
		t.Fatal("bare geometry document should be rejected")
	}
}

func TestImportUnknownLayerAndSuffix(t *testing.T) {
	im, repo := newTestImporter(t)
	ctx := context.Background()

	path := writeTemp(t, "x.geojson", `{"type":"FeatureCollection","features":[]}`)
	if _, err := im.Import(ctx, path, 42, Options{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown layer err = %v", err)
	}

	layer := createLayer(t, repo, "l")
	bad := writeTemp(t, "data.xyz", "whatever")
	if _, err := im.Import(ctx, bad, layer.ID, Options{}); err == nil {
		t.Fatal("unsupported suffix accepted")
	}
}

func TestImportCSVAutoDetect(t *testing.T) {
	im, repo := newTestImporter(t)
	ctx := context.Background()
	layer := createLayer(t, repo, "cities")

	path := writeTemp(t, "cities.csv", "\xef\xbb\xbfLatitude,Longitude,Name,Count\n47.1,8.5,Zurich,123\n")
	res, err := im.Import(ctx, path, layer.ID, Options{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || res.Failed != 0 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}

	got, err := repo.LayerByID(ctx, layer.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantSchema := schema.FieldTypes{"Name": schema.FieldString, "Count": schema.FieldInteger}
	if !reflect.DeepEqual(got.AttributeSchema, wantSchema) {
		t.Fatalf("schema = %v", got.AttributeSchema)
	}
	bbox, ok := got.BBox()
	if !ok || bbox.MinX != 8.5 || bbox.MinY != 47.1 {
		t.Fatalf("bbox = %v %v", bbox, ok)
	}

	feats, _, err := repo.QueryFeatures(ctx, layer.ID, nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(feats) != 1 {
		t.Fatalf("feats = %v", feats)
	}
	props := feats[0].Properties
	if props["Name"] != schema.Str("Zurich") || props["Count"] != schema.Int(123) {
		t.Fatalf("properties = %#v", props)
	}
	if feats[0].FID == "" {
		t.Fatal("csv rows should get a generated fid")
	}
}

func TestImportCSVRowErrorsAndExplicitFields(t *testing.T) {
	im, repo := newTestImporter(t)
	ctx := context.Background()
	layer := createLayer(t, repo, "points")

	path := writeTemp(t, "pts.csv", "ycoord,xcoord,label\n1.5,2.5,ok\nnope,3,bad\n")

	// auto-detection cannot find the columns
	if _, err := im.Import(ctx, path, layer.ID, Options{}); err == nil {
		t.Fatal("expected detection failure")
	}

	res, err := im.Import(ctx, path, layer.ID, Options{LatField: "ycoord", LonField: "xcoord"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if want := "Row 2: "; len(res.Errors[0]) < len(want) || res.Errors[0][:len(want)] != want {
		t.Fatalf("error message = %q", res.Errors[0])
	}
}

func TestImportCSVNoDataRows(t *testing.T) {
	im, repo := newTestImporter(t)
	layer := createLayer(t, repo, "empty")

	path := writeTemp(t, "empty.csv", "lat,lon\n")
	res, err := im.Import(context.Background(), path, layer.ID, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 0 || len(res.Errors) != 1 || res.Errors[0] != "CSV has no data rows" {
		t.Fatalf("result = %+v", res)
	}
}

func TestImportReplaceExisting(t *testing.T) {
	im, repo := newTestImporter(t)
	ctx := context.Background()
	layer := createLayer(t, repo, "swap")

	first := writeTemp(t, "a.geojson", `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"a","geometry":{"type":"Point","coordinates":[1,1]},"properties":{}}]}`)
	if _, err := im.Import(ctx, first, layer.ID, Options{}); err != nil {
		t.Fatal(err)
	}

	second := writeTemp(t, "b.geojson", `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"b","geometry":{"type":"Point","coordinates":[2,2]},"properties":{}}]}`)
	if _, err := im.Import(ctx, second, layer.ID, Options{ReplaceExisting: true}); err != nil {
		t.Fatal(err)
	}

	_, total, err := repo.QueryFeatures(ctx, layer.ID, nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("total after replace = %d", total)
	}
	if _, err := repo.FeatureByFID(ctx, layer.ID, "b"); err != nil {
		t.Fatalf("replacement feature missing: %v", err)
	}
}
