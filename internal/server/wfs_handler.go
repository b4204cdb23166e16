package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/observability"
	"github.com/mvonw/WFSFeatureServer/internal/store"
	"github.com/mvonw/WFSFeatureServer/internal/wfs"
)

const (
	xmlContentType = "application/xml; charset=UTF-8"
	gmlContentType = "application/gml+xml; version=3.2; charset=UTF-8"
)

// kvp reads the first non-empty value among the case variants of a KVP key.
func kvp(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// handleWFS is the KVP dispatcher for the /wfs endpoint.
func (s *Server) handleWFS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := strings.TrimSpace(kvp(q, "REQUEST", "request", "Request"))
	reqUpper := strings.ToUpper(req)

	// An XML POST body is a transaction envelope even without REQUEST.
	if r.Method == http.MethodPost {
		ct := strings.ToLower(r.Header.Get("Content-Type"))
		if strings.Contains(ct, "xml") || reqUpper == "TRANSACTION" {
			s.serveTransaction(w, r)
			return
		}
	}

	switch reqUpper {
	case "", "GETCAPABILITIES":
		observability.IncWFSRequest("GetCapabilities")
		out, err := s.wfs.GetCapabilities(r.Context())
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		writeXML(w, xmlContentType, out)

	case "DESCRIBEFEATURETYPE":
		observability.IncWFSRequest("DescribeFeatureType")
		typenames := kvp(q, "TYPENAMES", "TypeNames", "typenames", "TYPENAME", "TypeName")
		out, err := s.wfs.DescribeFeatureType(r.Context(), typenames)
		if errors.Is(err, store.ErrNotFound) {
			errorJSON(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		writeXML(w, xmlContentType, out)

	case "GETFEATURE":
		observability.IncWFSRequest("GetFeature")
		s.serveGetFeature(w, r)

	case "TRANSACTION":
		s.serveTransaction(w, r)

	default:
		errorJSON(w, http.StatusBadRequest, fmt.Sprintf(
			"Unknown REQUEST: '%s'. Supported: GetCapabilities, DescribeFeatureType, GetFeature, Transaction", req))
	}
}

func (s *Server) serveGetFeature(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typenames := kvp(q, "TYPENAMES", "TypeNames", "typenames", "TYPENAME", "TypeName")
	if typenames == "" {
		errorJSON(w, http.StatusBadRequest, "TYPENAMES parameter is required for GetFeature")
		return
	}

	query := wfs.FeatureQuery{TypeNames: typenames}

	if bboxStr := kvp(q, "BBOX", "bbox"); bboxStr != "" {
		bbox, err := parseBBox(bboxStr)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		query.BBox = bbox
	}
	if countStr := kvp(q, "COUNT", "count"); countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, fmt.Sprintf("Invalid COUNT: '%s'", countStr))
			return
		}
		query.Count = &n
	}
	if startStr := kvp(q, "STARTINDEX", "startindex"); startStr != "" {
		n, err := strconv.Atoi(startStr)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, fmt.Sprintf("Invalid STARTINDEX: '%s'", startStr))
			return
		}
		query.StartIndex = n
	}

	format := strings.ToLower(kvp(q, "OUTPUTFORMAT", "outputFormat", "outputformat"))
	if strings.Contains(format, "json") || strings.Contains(format, "geojson") {
		out, err := s.wfs.GetFeatureGeoJSON(r.Context(), query)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
		return
	}

	out, err := s.wfs.GetFeatureGML(r.Context(), query)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeXML(w, gmlContentType, out)
}

func (s *Server) serveTransaction(w http.ResponseWriter, r *http.Request) {
	observability.IncWFSRequest("Transaction")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	writeXML(w, xmlContentType, s.wfs.ExecuteTransaction(r.Context(), body))
}

// parseBBox parses "minx,miny,maxx,maxy[,crs]". With a fifth token naming
// EPSG:4326 (but not CRS84), the request values are lat,lon per WFS 2.0 and
// are swapped into the internal x,y convention.
func parseBBox(raw string) (*geometry.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 4 {
		return nil, fmt.Errorf("Invalid BBOX: '%s'", raw)
	}
	var vals [4]float64
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("BBOX values must be numeric: '%s'", raw)
		}
		vals[i] = v
	}
	if len(parts) >= 5 {
		crs := parts[4]
		if strings.Contains(crs, "4326") && !strings.Contains(crs, "CRS84") {
			vals[0], vals[1], vals[2], vals[3] = vals[1], vals[0], vals[3], vals[2]
		}
	}
	return &geometry.BBox{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}

func writeXML(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "path", r.URL.Path, "err", err)
	errorJSON(w, http.StatusInternalServerError, "internal server error")
}
