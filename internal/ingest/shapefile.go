package ingest

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/twpayne/go-shapefile"

	"github.com/mvonw/WFSFeatureServer/internal/schema"
)

// parseShapefileZip extracts the archive to a scratch directory and reads the
// first .shp found, together with its .dbf/.shx siblings.
func (im *Importer) parseShapefileZip(path string, layerID int64, srcSRID int) (*parseOutcome, error) {
	dir, err := os.MkdirTemp("", "shpzip-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := extractZip(path, dir); err != nil {
		return nil, fmt.Errorf("extract zip: %w", err)
	}

	shpPath, err := findShapefile(dir)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(dir, shpPath)
	if err != nil {
		return nil, err
	}
	basename := strings.TrimSuffix(filepath.ToSlash(rel), ".shp")
	sf, err := shapefile.ReadFS(os.DirFS(dir), basename, nil)
	if err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}

	out := &parseOutcome{}
	for i := 0; i < len(sf.SHP.Records); i++ {
		fields, g := sf.Record(i)
		if g == nil {
			out.errors = append(out.errors, fmt.Sprintf("Feature %d: null geometry", i))
			continue
		}
		props := schema.Properties{}
		for k, v := range fields {
			props[k] = schema.FromAny(v)
		}
		rec, err := makeRecord(layerID, g, srcSRID, props, strconv.Itoa(i))
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("Feature %d: %v", i, err))
			continue
		}
		out.add(rec)
	}
	return out, nil
}

// extractZip unpacks the archive under dir, refusing entries that escape it.
func extractZip(zipPath, dir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		name := filepath.FromSlash(zf.Name)
		dest := filepath.Join(dir, name)
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry escapes archive: %s", zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := copyZipEntry(zf, dest); err != nil {
			return err
		}
	}
	return nil
}

func copyZipEntry(zf *zip.File, dest string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer w.Close()

	_, err = io.Copy(w, rc)
	return err
}

// findShapefile returns the first .shp under dir in walk order.
func findShapefile(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".shp") {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no .shp file found in zip archive")
	}
	return found, nil
}
