package ingest

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
)

// pointSHP builds a single-record point .shp: the 100-byte header followed
// by one record (number, content length, shape type, x, y).
func pointSHP(x, y float64) []byte {
	buf := make([]byte, 128)
	binary.BigEndian.PutUint32(buf[0:], 9994)
	binary.BigEndian.PutUint32(buf[24:], 64) // file length in 16-bit words
	binary.LittleEndian.PutUint32(buf[28:], 1000)
	binary.LittleEndian.PutUint32(buf[32:], 1) // point
	binary.LittleEndian.PutUint64(buf[36:], math.Float64bits(x))
	binary.LittleEndian.PutUint64(buf[44:], math.Float64bits(y))
	binary.LittleEndian.PutUint64(buf[52:], math.Float64bits(x))
	binary.LittleEndian.PutUint64(buf[60:], math.Float64bits(y))
	binary.BigEndian.PutUint32(buf[100:], 1)  // record number
	binary.BigEndian.PutUint32(buf[104:], 10) // content length in words
	binary.LittleEndian.PutUint32(buf[108:], 1)
	binary.LittleEndian.PutUint64(buf[112:], math.Float64bits(x))
	binary.LittleEndian.PutUint64(buf[120:], math.Float64bits(y))
	return buf
}

func writeZipFixture(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestImportShapefileZip(t *testing.T) {
	im, repo := newTestImporter(t)
	ctx := context.Background()
	layer := createLayer(t, repo, "points")

	// the .shp may sit in a subdirectory of the archive
	path := filepath.Join(t.TempDir(), "points.zip")
	writeZipFixture(t, path, map[string][]byte{
		"data/points.shp": pointSHP(10.5, 20.25),
	})

	res, err := im.Import(ctx, path, layer.ID, Options{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || res.Failed != 0 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}

	feat, err := repo.FeatureByFID(ctx, layer.ID, "0")
	if err != nil {
		t.Fatalf("feature by fid: %v", err)
	}
	g, err := geometry.DecodeWKB(feat.Geometry)
	if err != nil {
		t.Fatal(err)
	}
	if coords := g.FlatCoords(); coords[0] != 10.5 || coords[1] != 20.25 {
		t.Fatalf("coords = %v", coords)
	}
}

func TestImportZipWithoutShapefile(t *testing.T) {
	im, repo := newTestImporter(t)
	layer := createLayer(t, repo, "noshape")

	path := filepath.Join(t.TempDir(), "empty.zip")
	writeZipFixture(t, path, map[string][]byte{
		"readme.txt": []byte("nothing here"),
	})

	_, err := im.Import(context.Background(), path, layer.ID, Options{})
	if err == nil || !strings.Contains(err.Error(), "no .shp file found") {
		t.Fatalf("err = %v", err)
	}
}

func TestExtractZipRejectsEscapingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evil.zip")
	writeZipFixture(t, path, map[string][]byte{
		"../escape.shp": []byte("x"),
	})

	err := extractZip(path, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "zip entry escapes archive") {
		t.Fatalf("err = %v", err)
	}
}

func TestFindShapefile(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(nested, "roads.SHP")
	if err := os.WriteFile(want, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := findShapefile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("findShapefile = %q, want %q", got, want)
	}

	if _, err := findShapefile(t.TempDir()); err == nil {
		t.Fatal("empty dir accepted")
	}
}
