package ingest

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/schema"
	"github.com/mvonw/WFSFeatureServer/internal/store"
)

// parseGeoPackage reads the first feature table of a GeoPackage. The file is
// plain sqlite; geometries carry a GeoPackage binary header in front of the
// WKB payload.
func (im *Importer) parseGeoPackage(path string, layerID int64, srcSRID int) (*parseOutcome, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", url.PathEscape(path))
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	defer db.Close()

	var meta struct {
		TableName  string `db:"table_name"`
		GeomColumn string `db:"column_name"`
		SRSID      int    `db:"srs_id"`
	}
	err = db.Get(&meta, `
		SELECT c.table_name, g.column_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
		LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("no feature table found in GeoPackage: %w", err)
	}
	if meta.SRSID > 0 {
		srcSRID = meta.SRSID
	}

	rows, err := db.Queryx(fmt.Sprintf(`SELECT * FROM %q`, meta.TableName))
	if err != nil {
		return nil, fmt.Errorf("read feature table: %w", err)
	}
	defer rows.Close()

	out := &parseOutcome{}
	i := 0
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		rec, err := gpkgRecord(layerID, row, meta.GeomColumn, srcSRID, i)
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("Feature %d: %v", i, err))
			i++
			continue
		}
		out.add(rec)
		i++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func gpkgRecord(layerID int64, row map[string]any, geomColumn string, srcSRID, idx int) (store.Feature, error) {
	blob, _ := row[geomColumn].([]byte)
	wkbData, err := stripGPKGHeader(blob)
	if err != nil {
		return store.Feature{}, err
	}
	g, err := geometry.DecodeWKB(wkbData)
	if err != nil {
		return store.Feature{}, err
	}

	fid := strconv.Itoa(idx)
	props := schema.Properties{}
	for k, v := range row {
		if k == geomColumn {
			continue
		}
		if k == "fid" || k == "id" {
			fid = schema.FromAny(v).Text()
			continue
		}
		props[k] = schema.FromAny(v)
	}

	return makeRecord(layerID, g, srcSRID, props, fid)
}

// stripGPKGHeader skips the GeoPackage binary header: magic "GP", version,
// flags, srs_id, then an optional envelope whose size the flags encode.
func stripGPKGHeader(blob []byte) ([]byte, error) {
	if len(blob) < 8 {
		return nil, fmt.Errorf("geometry blob too short")
	}
	if blob[0] != 0x47 || blob[1] != 0x50 {
		return nil, fmt.Errorf("missing GeoPackage geometry magic")
	}
	envelopeSize := 0
	switch (blob[3] >> 1) & 0x07 {
	case 0:
		envelopeSize = 0
	case 1:
		envelopeSize = 32
	case 2, 3:
		envelopeSize = 48
	case 4:
		envelopeSize = 64
	default:
		return nil, fmt.Errorf("invalid envelope contents indicator")
	}
	start := 8 + envelopeSize
	if start >= len(blob) {
		return nil, fmt.Errorf("geometry blob truncated")
	}
	return blob[start:], nil
}
