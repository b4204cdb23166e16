// Package ingest loads GeoJSON, zipped shapefiles, GeoPackages and lat/lon
// CSV files into a layer. Every format is normalised to WGS84 WKB with
// per-feature bbox columns before insertion.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/observability"
	"github.com/mvonw/WFSFeatureServer/internal/schema"
	"github.com/mvonw/WFSFeatureServer/internal/store"
)

const (
	storageSRID = 4326
	chunkSize   = 500
	sampleLimit = 100
)

// Result aggregates one import run. BBox is the union over successfully
// inserted records, nil when nothing made it in.
type Result struct {
	Imported int       `json:"features_imported"`
	Failed   int       `json:"features_failed"`
	Errors   []string  `json:"errors"`
	BBox     []float64 `json:"bbox"`
}

type Importer struct {
	repo *store.Repo
	log  *slog.Logger
}

func New(repo *store.Repo, log *slog.Logger) *Importer {
	return &Importer{repo: repo, log: log}
}

// Options control one import run. LatField/LonField override CSV column
// auto-detection.
type Options struct {
	SourceSRID      int
	LatField        string
	LonField        string
	ReplaceExisting bool
}

// Import reads the file at path into the layer. Individual feature failures
// are collected, not fatal; only unreadable or unsupported inputs abort.
func (im *Importer) Import(ctx context.Context, path string, layerID int64, opts Options) (*Result, error) {
	if _, err := im.repo.LayerByID(ctx, layerID); err != nil {
		return nil, err
	}
	if opts.SourceSRID == 0 {
		opts.SourceSRID = storageSRID
	}

	if opts.ReplaceExisting {
		err := im.repo.WithTx(ctx, func(r *store.Repo) error {
			return r.DeleteFeaturesByLayer(ctx, layerID)
		})
		if err != nil {
			return nil, fmt.Errorf("replace existing: %w", err)
		}
	}

	var (
		parsed *parseOutcome
		err    error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".geojson", ".json":
		parsed, err = im.parseGeoJSON(path, layerID, opts.SourceSRID)
	case ".zip":
		parsed, err = im.parseShapefileZip(path, layerID, opts.SourceSRID)
	case ".gpkg":
		parsed, err = im.parseGeoPackage(path, layerID, opts.SourceSRID)
	case ".csv":
		parsed, err = im.parseCSV(path, layerID, opts)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	res := im.insertBatches(ctx, parsed)

	if err := im.repo.RefreshLayerStats(ctx, layerID); err != nil {
		return nil, fmt.Errorf("refresh layer stats: %w", err)
	}
	// infer over stored rows so pre-existing features keep contributing
	samples, err := im.repo.SampleProperties(ctx, layerID, sampleLimit)
	if err != nil {
		return nil, fmt.Errorf("sample properties: %w", err)
	}
	if ft := schema.Infer(samples); len(ft) > 0 {
		if err := im.repo.UpdateAttributeSchema(ctx, layerID, ft); err != nil {
			return nil, fmt.Errorf("update attribute schema: %w", err)
		}
	}

	observability.AddIngested(res.Imported, res.Failed)
	im.log.Info("import finished",
		"layer_id", layerID, "imported", res.Imported,
		"failed", res.Failed, "errors", len(res.Errors))
	return res, nil
}

// parseOutcome carries the per-feature records plus the accumulated parse
// errors.
type parseOutcome struct {
	records []store.Feature
	errors  []string
}

func (p *parseOutcome) add(rec store.Feature) {
	p.records = append(p.records, rec)
}

// makeRecord reprojects to the storage CRS, encodes WKB and fills the bbox
// columns. An empty fid gets a fresh opaque identifier.
func makeRecord(layerID int64, g geom.T, srcSRID int, props schema.Properties, fid string) (store.Feature, error) {
	g, err := geometry.Reproject(g, srcSRID, storageSRID)
	if err != nil {
		return store.Feature{}, err
	}
	wkbData, err := geometry.EncodeWKB(g)
	if err != nil {
		return store.Feature{}, err
	}
	if fid == "" {
		fid = uuid.NewString()
	}
	f := store.Feature{
		LayerID:    layerID,
		FID:        fid,
		Geometry:   wkbData,
		Properties: props,
	}
	f.SetBBox(geometry.BoundsOf(g))
	return f, nil
}

// insertBatches writes records in chunks of 500, each in its own unit of
// work: a failed chunk marks all of its rows failed without touching the
// other chunks.
func (im *Importer) insertBatches(ctx context.Context, parsed *parseOutcome) *Result {
	res := &Result{Errors: append([]string{}, parsed.errors...)}

	var agg *geometry.BBox
	for i := 0; i < len(parsed.records); i += chunkSize {
		end := i + chunkSize
		if end > len(parsed.records) {
			end = len(parsed.records)
		}
		chunk := parsed.records[i:end]
		err := im.repo.WithTx(ctx, func(r *store.Repo) error {
			return r.InsertFeaturesIgnore(ctx, chunk)
		})
		if err != nil {
			res.Failed += len(chunk)
			res.Errors = append(res.Errors,
				fmt.Sprintf("Batch insert error (chunk %d): %v", i/chunkSize, err))
			continue
		}
		res.Imported += len(chunk)
		for j := range chunk {
			if b, ok := chunk[j].BBox(); ok {
				if agg == nil {
					bb := b
					agg = &bb
				} else {
					*agg = agg.Union(b)
				}
			}
		}
	}
	if agg != nil {
		res.BBox = []float64{agg.MinX, agg.MinY, agg.MaxX, agg.MaxY}
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	return res
}

// ── GeoJSON ──

type geojsonNode struct {
	Type       string                  `json:"type"`
	ID         schema.Value            `json:"id"`
	Geometry   json.RawMessage         `json:"geometry"`
	Properties map[string]schema.Value `json:"properties"`
	Features   []geojsonNode           `json:"features"`
}

func (im *Importer) parseGeoJSON(path string, layerID int64, srcSRID int) (*parseOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc geojsonNode
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	var feats []geojsonNode
	switch doc.Type {
	case "FeatureCollection":
		feats = doc.Features
	case "Feature":
		feats = []geojsonNode{doc}
	default:
		return nil, fmt.Errorf("GeoJSON must be a FeatureCollection or Feature")
	}

	out := &parseOutcome{}
	for i, feat := range feats {
		rec, err := geojsonRecord(layerID, feat, srcSRID)
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("Feature %d: %v", i, err))
			continue
		}
		out.add(rec)
	}
	return out, nil
}

func geojsonRecord(layerID int64, feat geojsonNode, srcSRID int) (store.Feature, error) {
	if len(feat.Geometry) == 0 || string(feat.Geometry) == "null" {
		return store.Feature{}, fmt.Errorf("null geometry")
	}
	g, err := geometry.FromGeoJSON(feat.Geometry)
	if err != nil {
		return store.Feature{}, err
	}
	props := schema.Properties(feat.Properties)
	if props == nil {
		props = schema.Properties{}
	}
	return makeRecord(layerID, g, srcSRID, props, feat.ID.Text())
}
