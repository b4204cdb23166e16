package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/mvonw/WFSFeatureServer/internal/schema"
	"github.com/mvonw/WFSFeatureServer/internal/store"
)

// Column names recognised during lat/lon auto-detection, lower-cased.
var (
	latColumnNames = map[string]bool{
		"lat": true, "latitude": true, "y": true, "northing": true, "ylat": true,
	}
	lonColumnNames = map[string]bool{
		"lon": true, "lng": true, "longitude": true, "x": true,
		"easting": true, "xlon": true, "xlong": true,
	}
)

func (im *Importer) parseCSV(path string, layerID int64, opts Options) (*parseOutcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(newBOMReader(f))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return &parseOutcome{errors: []string{"CSV has no data rows"}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	latIdx, lonIdx, err := detectLatLon(header, opts.LatField, opts.LonField)
	if err != nil {
		return nil, err
	}

	out := &parseOutcome{}
	rowNum := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("Row %d: %v", rowNum, err))
			continue
		}
		rec, err := csvRecord(layerID, header, row, latIdx, lonIdx)
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("Row %d: %v", rowNum, err))
			continue
		}
		out.add(rec)
	}
	if rowNum == 0 {
		out.errors = append(out.errors, "CSV has no data rows")
	}
	return out, nil
}

func csvRecord(layerID int64, header, row []string, latIdx, lonIdx int) (store.Feature, error) {
	if latIdx >= len(row) || lonIdx >= len(row) {
		return store.Feature{}, fmt.Errorf("missing coordinate columns")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(row[latIdx]), 64)
	if err != nil {
		return store.Feature{}, fmt.Errorf("invalid latitude %q", row[latIdx])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[lonIdx]), 64)
	if err != nil {
		return store.Feature{}, fmt.Errorf("invalid longitude %q", row[lonIdx])
	}

	props := schema.Properties{}
	for i, name := range header {
		if i == latIdx || i == lonIdx || name == "" {
			continue
		}
		val := ""
		if i < len(row) {
			val = row[i]
		}
		props[name] = schema.Coerce(val)
	}

	pt := geom.NewPointFlat(geom.XY, []float64{lon, lat})
	return makeRecord(layerID, pt, storageSRID, props, "")
}

// detectLatLon resolves the coordinate columns, preferring explicit field
// names over the well-known-name scan.
func detectLatLon(header []string, latField, lonField string) (int, int, error) {
	find := func(name string) int {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
		return -1
	}

	latIdx, lonIdx := -1, -1
	if latField != "" {
		if latIdx = find(latField); latIdx < 0 {
			return 0, 0, fmt.Errorf("latitude column %q not found in CSV header", latField)
		}
	}
	if lonField != "" {
		if lonIdx = find(lonField); lonIdx < 0 {
			return 0, 0, fmt.Errorf("longitude column %q not found in CSV header", lonField)
		}
	}
	for i, h := range header {
		lower := strings.ToLower(strings.TrimSpace(h))
		if latIdx < 0 && latColumnNames[lower] {
			latIdx = i
		}
		if lonIdx < 0 && lonColumnNames[lower] {
			lonIdx = i
		}
	}
	if latIdx < 0 || lonIdx < 0 {
		return 0, 0, fmt.Errorf("could not detect latitude/longitude columns; specify lat_field and lon_field")
	}
	return latIdx, lonIdx, nil
}

// newBOMReader strips a UTF-8 byte order mark if present.
func newBOMReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		br.Discard(3)
	}
	return br
}
