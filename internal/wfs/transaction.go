package wfs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mvonw/WFSFeatureServer/internal/geometry"
	"github.com/mvonw/WFSFeatureServer/internal/schema"
	"github.com/mvonw/WFSFeatureServer/internal/store"
)

const storageSRID = 4326

// insertedRef identifies one inserted feature in the response.
type insertedRef struct {
	layer string
	fid   string
}

// ExecuteTransaction runs a WFS-T envelope against the store in a single
// unit of work and always returns a response document: either a
// wfs:TransactionResponse or an ows:ExceptionReport.
func (s *Service) ExecuteTransaction(ctx context.Context, body []byte) []byte {
	root, err := geometry.ParseXML(body)
	if err != nil {
		return ExceptionReport(CodeInvalidParameterValue, fmt.Sprintf("Malformed XML: %v", err))
	}
	if root.Local() != "Transaction" {
		return ExceptionReport(CodeOperationNotSupported,
			fmt.Sprintf("Expected wfs:Transaction, got %s", root.Local()))
	}

	var (
		inserted     []insertedRef
		totalUpdated int64
		totalDeleted int64
	)
	err = s.repo.WithTx(ctx, func(r *store.Repo) error {
		touched := map[int64]bool{}
		for i := range root.Children {
			child := &root.Children[i]
			switch child.Local() {
			case "Insert":
				refs, layerIDs, err := s.applyInsert(ctx, r, child)
				if err != nil {
					return err
				}
				inserted = append(inserted, refs...)
				for id := range layerIDs {
					touched[id] = true
				}
			case "Update":
				n, layerID, err := s.applyUpdate(ctx, r, child)
				if err != nil {
					return err
				}
				totalUpdated += n
				touched[layerID] = true
			case "Delete":
				n, layerID, err := s.applyDelete(ctx, r, child)
				if err != nil {
					return err
				}
				totalDeleted += n
				touched[layerID] = true
			}
		}
		for id := range touched {
			if err := r.RefreshLayerStats(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var oe *OGCError
		if errors.As(err, &oe) {
			return ExceptionReport(oe.Code, oe.Message)
		}
		return ExceptionReport(CodeNoApplicableCode, fmt.Sprintf("Transaction failed: %v", err))
	}

	return transactionResponse(inserted, totalUpdated, totalDeleted)
}

// resolveLayer wraps the repository lookup in the WFS-T error taxonomy.
func resolveLayer(ctx context.Context, r *store.Repo, name string) (*store.Layer, error) {
	layer, err := r.LayerByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ogcErrorf(CodeInvalidParameterValue, "Unknown feature type: '%s'", name)
	}
	return layer, err
}

// ── Insert ──

// applyInsert handles one wfs:Insert element. Each child is a feature whose
// tag local name is the layer name.
func (s *Service) applyInsert(ctx context.Context, r *store.Repo, elem *geometry.Node) ([]insertedRef, map[int64]bool, error) {
	var refs []insertedRef
	layerIDs := map[int64]bool{}

	for i := range elem.Children {
		featureElem := &elem.Children[i]
		layerName := featureElem.Local()
		layer, err := resolveLayer(ctx, r, layerName)
		if err != nil {
			return nil, nil, err
		}
		layerIDs[layer.ID] = true

		fid := featureElem.Attr("id")
		if fid == "" {
			fid = uuid.NewString()
		}
		fid = strings.TrimPrefix(fid, layerName+".")

		feat := store.Feature{LayerID: layer.ID, FID: fid, Properties: schema.Properties{}}
		for j := range featureElem.Children {
			child := &featureElem.Children[j]
			switch local := child.Local(); {
			case local == "geometry" || local == "the_geom":
				if gmlElem := geometry.FindGMLGeometry(child); gmlElem != nil {
					if err := setGeometry(&feat, gmlElem); err != nil {
						return nil, nil, err
					}
				}
			case geometry.IsGMLGeometry(local):
				if err := setGeometry(&feat, child); err != nil {
					return nil, nil, err
				}
			default:
				feat.Properties[local] = schema.Str(child.Text)
			}
		}

		if err := r.InsertFeature(ctx, &feat); err != nil {
			return nil, nil, err
		}
		refs = append(refs, insertedRef{layer: layerName, fid: fid})
	}
	return refs, layerIDs, nil
}

// setGeometry parses a GML element, reprojects into the storage CRS and
// fills the feature's geometry and bbox columns.
func setGeometry(feat *store.Feature, gmlElem *geometry.Node) error {
	g, srid, err := geometry.ParseGML(gmlElem)
	if err != nil {
		return ogcErrorf(CodeInvalidParameterValue, "Invalid geometry: %v", err)
	}
	g, err = geometry.Reproject(g, srid, storageSRID)
	if err != nil {
		return ogcErrorf(CodeInvalidParameterValue, "Cannot reproject from EPSG:%d: %v", srid, err)
	}
	wkbData, err := geometry.EncodeWKB(g)
	if err != nil {
		return err
	}
	feat.Geometry = wkbData
	feat.SetBBox(geometry.BoundsOf(g))
	return nil
}

// ── Update ──

func (s *Service) applyUpdate(ctx context.Context, r *store.Repo, elem *geometry.Node) (int64, int64, error) {
	layer, err := resolveLayer(ctx, r, typeNameAttr(elem))
	if err != nil {
		return 0, 0, err
	}

	propUpdates := schema.Properties{}
	var geomFeat *store.Feature

	for _, propElem := range elem.FindAll("Property") {
		refElem := propElem.Find("ValueReference")
		valElem := propElem.Find("Value")
		if refElem == nil {
			continue
		}
		field := strings.TrimSpace(refElem.Text)
		if field == "" {
			continue
		}

		if field == "geometry" || field == "the_geom" {
			if valElem == nil {
				continue
			}
			if gmlElem := geometry.FindGMLGeometry(valElem); gmlElem != nil {
				geomFeat = &store.Feature{}
				if err := setGeometry(geomFeat, gmlElem); err != nil {
					return 0, 0, err
				}
			}
			continue
		}
		if valElem == nil {
			propUpdates[field] = schema.Null()
		} else {
			propUpdates[field] = schema.Str(valElem.Text)
		}
	}

	fids := resourceIDs(elem, layer.Name)
	if len(fids) == 0 {
		return 0, layer.ID, nil
	}

	var updated int64
	for _, fid := range fids {
		row, err := r.FeatureByFID(ctx, layer.ID, fid)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, 0, err
		}

		var patch store.FeaturePatch
		if len(propUpdates) > 0 {
			merged := schema.Properties{}
			for k, v := range row.Properties {
				merged[k] = v
			}
			for k, v := range propUpdates {
				merged[k] = v
			}
			patch.Properties = &merged
		}
		if geomFeat != nil {
			patch.Geometry = geomFeat.Geometry
			if b, ok := geomFeat.BBox(); ok {
				patch.BBox = &b
			}
		}
		if patch.Properties == nil && patch.Geometry == nil {
			continue
		}
		if err := r.UpdateFeature(ctx, row.ID, patch); err != nil {
			return 0, 0, err
		}
		updated++
	}
	return updated, layer.ID, nil
}

// ── Delete ──

func (s *Service) applyDelete(ctx context.Context, r *store.Repo, elem *geometry.Node) (int64, int64, error) {
	layer, err := resolveLayer(ctx, r, typeNameAttr(elem))
	if err != nil {
		return 0, 0, err
	}
	fids := resourceIDs(elem, layer.Name)
	if len(fids) == 0 {
		return 0, layer.ID, nil
	}
	n, err := r.DeleteFeaturesByFIDs(ctx, layer.ID, fids)
	if err != nil {
		return 0, 0, err
	}
	return n, layer.ID, nil
}

// ── Helpers ──

func typeNameAttr(elem *geometry.Node) string {
	if v := elem.Attr("typeName"); v != "" {
		return v
	}
	return elem.Attr("typeNames")
}

// resourceIDs collects fes:ResourceId rids under any fes:Filter descendant,
// stripping the "<layer>." prefix when present.
func resourceIDs(elem *geometry.Node, layerName string) []string {
	var fids []string
	for _, filter := range elem.Descendants("Filter") {
		for _, rid := range filter.Descendants("ResourceId") {
			raw := rid.Attr("rid")
			if raw == "" {
				continue
			}
			fids = append(fids, strings.TrimPrefix(raw, layerName+"."))
		}
	}
	return fids
}

func transactionResponse(inserted []insertedRef, updated, deleted int64) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<wfs:TransactionResponse xmlns:wfs="` + nsWFS + `" xmlns:fes="` + nsFES + `" version="2.0.0">`)
	b.WriteString(`<wfs:TransactionSummary>`)
	b.WriteString(fmt.Sprintf(`<wfs:totalInserted>%d</wfs:totalInserted>`, len(inserted)))
	b.WriteString(fmt.Sprintf(`<wfs:totalUpdated>%d</wfs:totalUpdated>`, updated))
	b.WriteString(fmt.Sprintf(`<wfs:totalDeleted>%d</wfs:totalDeleted>`, deleted))
	b.WriteString(`</wfs:TransactionSummary>`)
	if len(inserted) > 0 {
		b.WriteString(`<wfs:InsertResults>`)
		for _, ref := range inserted {
			b.WriteString(fmt.Sprintf(`<wfs:Feature><fes:ResourceId rid="%s.%s"/></wfs:Feature>`, ref.layer, ref.fid))
		}
		b.WriteString(`</wfs:InsertResults>`)
	}
	b.WriteString(`</wfs:TransactionResponse>`)
	return []byte(b.String())
}
