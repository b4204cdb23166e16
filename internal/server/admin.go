package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/ingest"
	"github.com/mvonw/WFSFeatureServer/internal/schema"
	"github.com/mvonw/WFSFeatureServer/internal/store"
)

// layerNamePattern keeps layer names usable as WFS TypeNames and XML tags.
var layerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

var allowedUploadSuffixes = map[string]bool{
	".geojson": true, ".json": true, ".zip": true, ".gpkg": true, ".csv": true,
}

type layerResponse struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	GeometryType    string            `json:"geometry_type"`
	SRID            int               `json:"srid"`
	BBox            []float64         `json:"bbox"`
	FeatureCount    int64             `json:"feature_count"`
	AttributeSchema schema.FieldTypes `json:"attribute_schema"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

func toLayerResponse(l *store.Layer) layerResponse {
	out := layerResponse{
		ID:              l.ID,
		Name:            l.Name,
		Title:           l.Title,
		Description:     l.Description,
		GeometryType:    l.GeometryType,
		SRID:            l.SRID,
		FeatureCount:    l.FeatureCount,
		AttributeSchema: l.AttributeSchema,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
	if b, ok := l.BBox(); ok {
		out.BBox = []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
	}
	return out
}

// layerFromPath resolves {layerID}; a nil return means the response has been
// written already.
func (s *Server) layerFromPath(w http.ResponseWriter, r *http.Request) *store.Layer {
	id, err := strconv.ParseInt(chi.URLParam(r, "layerID"), 10, 64)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid layer id")
		return nil
	}
	layer, err := s.repo.LayerByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(w, http.StatusNotFound, fmt.Sprintf("Layer %d not found", id))
		return nil
	}
	if err != nil {
		s.internalError(w, r, err)
		return nil
	}
	return layer
}

// ── Layer CRUD ──

func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := s.repo.LayersNewestFirst(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]layerResponse, 0, len(layers))
	for i := range layers {
		out = append(out, toLayerResponse(&layers[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateLayer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !layerNamePattern.MatchString(body.Name) {
		errorJSON(w, http.StatusUnprocessableEntity,
			"name must match ^[A-Za-z0-9_-]+$")
		return
	}
	if body.Title == "" {
		body.Title = body.Name
	}

	layer := store.Layer{Name: body.Name, Title: body.Title, Description: body.Description}
	err := s.repo.WithTx(r.Context(), func(repo *store.Repo) error {
		return repo.CreateLayer(r.Context(), &layer)
	})
	if errors.Is(err, store.ErrConflict) {
		errorJSON(w, http.StatusConflict, fmt.Sprintf("Layer name '%s' already exists", body.Name))
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	created, err := s.repo.LayerByID(r.Context(), layer.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toLayerResponse(created))
}

func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	respondJSON(w, http.StatusOK, toLayerResponse(layer))
}

func (s *Server) handlePatchLayer(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	var body struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Title != nil || body.Description != nil {
		if err := s.repo.PatchLayer(r.Context(), layer.ID, body.Title, body.Description); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	updated, err := s.repo.LayerByID(r.Context(), layer.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toLayerResponse(updated))
}

func (s *Server) handleDeleteLayer(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	if err := s.repo.DeleteLayer(r.Context(), layer.ID); err != nil {
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Feature preview ──

func (s *Server) handleFeaturePreview(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	limit := 1000
	if raw := r.URL.Query().Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 5000 {
			errorJSON(w, http.StatusUnprocessableEntity, "max must be between 1 and 5000")
			return
		}
		limit = n
	}

	feats, _, err := s.repo.QueryFeatures(r.Context(), layer.ID, nil, limit, 0)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	type previewFeature struct {
		Type       string            `json:"type"`
		ID         string            `json:"id"`
		Geometry   json.RawMessage   `json:"geometry"`
		Properties schema.Properties `json:"properties"`
	}
	out := struct {
		Type     string           `json:"type"`
		Features []previewFeature `json:"features"`
	}{Type: "FeatureCollection", Features: make([]previewFeature, 0, len(feats))}

	for i := range feats {
		f := &feats[i]
		var geomJSON json.RawMessage
		if len(f.Geometry) > 0 {
			if g, err := geometry.DecodeWKB(f.Geometry); err == nil {
				geomJSON, _ = geometry.ToGeoJSON(g)
			}
		}
		props := f.Properties
		if props == nil {
			props = schema.Properties{}
		}
		out.Features = append(out.Features, previewFeature{
			Type: "Feature", ID: f.FID, Geometry: geomJSON, Properties: props,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// ── Import ──

// handleImport accepts a multipart upload, spools it to the uploads
// directory and runs the ingest pipeline. The temp file is removed on every
// exit path.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}

	if err := r.ParseMultipartForm(256 << 20); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		filename = "upload"
	}
	suffix := strings.ToLower(filepath.Ext(filename))
	if !allowedUploadSuffixes[suffix] {
		errorJSON(w, http.StatusBadRequest, fmt.Sprintf(
			"Unsupported file type '%s'. Allowed: .csv, .geojson, .gpkg, .json, .zip", suffix))
		return
	}

	opts := ingest.Options{SourceSRID: 4326}
	if raw := r.FormValue("srid"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errorJSON(w, http.StatusUnprocessableEntity, "srid must be an integer")
			return
		}
		opts.SourceSRID = n
	}
	opts.LatField = r.FormValue("lat_field")
	opts.LonField = r.FormValue("lon_field")
	opts.ReplaceExisting = r.FormValue("replace_existing") == "true"

	tmpPath := filepath.Join(s.cfg.UploadsDir, fmt.Sprintf("layer_%d_%s", layer.ID, filename))
	if err := spoolUpload(file, tmpPath); err != nil {
		s.internalError(w, r, err)
		return
	}
	defer os.Remove(tmpPath)

	result, err := s.imp.Import(r.Context(), tmpPath, layer.ID, opts)
	if err != nil {
		errorJSON(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func spoolUpload(src io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	w, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		os.Remove(dest)
		return err
	}
	return w.Close()
}
