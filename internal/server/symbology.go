package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mvonw/WFSFeatureServer/internal/store"
)

var (
	colorPattern    = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	filterOperators = map[string]bool{
		"eq": true, "neq": true, "gt": true, "gte": true, "lt": true,
		"lte": true, "contains": true, "in": true, "is_null": true,
	}
)

type rulePayload struct {
	RuleOrder      int     `json:"rule_order"`
	Label          string  `json:"label"`
	FilterField    *string `json:"filter_field"`
	FilterOperator string  `json:"filter_operator"`
	FilterValue    *string `json:"filter_value"`
	FillColor      string  `json:"fill_color"`
	FillOpacity    float64 `json:"fill_opacity"`
	StrokeColor    string  `json:"stroke_color"`
	StrokeWidth    float64 `json:"stroke_width"`
	PointRadius    float64 `json:"point_radius"`
	IsDefault      bool    `json:"is_default"`
}

func defaultRulePayload() rulePayload {
	return rulePayload{
		FilterOperator: "eq",
		FillColor:      "#3388ff",
		FillOpacity:    0.6,
		StrokeColor:    "#ffffff",
		StrokeWidth:    1.5,
		PointRadius:    6.0,
	}
}

func (p *rulePayload) validate() error {
	if !filterOperators[p.FilterOperator] {
		return fmt.Errorf("invalid filter_operator '%s'", p.FilterOperator)
	}
	if !colorPattern.MatchString(p.FillColor) || !colorPattern.MatchString(p.StrokeColor) {
		return fmt.Errorf("colors must be #RRGGBB")
	}
	if p.FillOpacity < 0 || p.FillOpacity > 1 {
		return fmt.Errorf("fill_opacity must be within [0, 1]")
	}
	if p.StrokeWidth < 0 || p.StrokeWidth > 50 {
		return fmt.Errorf("stroke_width must be within [0, 50]")
	}
	if p.PointRadius < 1 || p.PointRadius > 100 {
		return fmt.Errorf("point_radius must be within [1, 100]")
	}
	return nil
}

func (p *rulePayload) toRule(layerID int64) store.SymbologyRule {
	return store.SymbologyRule{
		LayerID:        layerID,
		RuleOrder:      p.RuleOrder,
		Label:          p.Label,
		FilterField:    p.FilterField,
		FilterOperator: p.FilterOperator,
		FilterValue:    p.FilterValue,
		FillColor:      p.FillColor,
		FillOpacity:    p.FillOpacity,
		StrokeColor:    p.StrokeColor,
		StrokeWidth:    p.StrokeWidth,
		PointRadius:    p.PointRadius,
		IsDefault:      p.IsDefault,
	}
}

type ruleResponse struct {
	ID             int64   `json:"id"`
	LayerID        int64   `json:"layer_id"`
	RuleOrder      int     `json:"rule_order"`
	Label          string  `json:"label"`
	FilterField    *string `json:"filter_field"`
	FilterOperator string  `json:"filter_operator"`
	FilterValue    *string `json:"filter_value"`
	FillColor      string  `json:"fill_color"`
	FillOpacity    float64 `json:"fill_opacity"`
	StrokeColor    string  `json:"stroke_color"`
	StrokeWidth    float64 `json:"stroke_width"`
	PointRadius    float64 `json:"point_radius"`
	IsDefault      bool    `json:"is_default"`
}

func toRuleResponse(rule *store.SymbologyRule) ruleResponse {
	return ruleResponse{
		ID:             rule.ID,
		LayerID:        rule.LayerID,
		RuleOrder:      rule.RuleOrder,
		Label:          rule.Label,
		FilterField:    rule.FilterField,
		FilterOperator: rule.FilterOperator,
		FilterValue:    rule.FilterValue,
		FillColor:      rule.FillColor,
		FillOpacity:    rule.FillOpacity,
		StrokeColor:    rule.StrokeColor,
		StrokeWidth:    rule.StrokeWidth,
		PointRadius:    rule.PointRadius,
		IsDefault:      rule.IsDefault,
	}
}

func (s *Server) writeRules(w http.ResponseWriter, r *http.Request, layerID int64) {
	rules, err := s.repo.RulesByLayer(r.Context(), layerID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for i := range rules {
		out = append(out, toRuleResponse(&rules[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	s.writeRules(w, r, layer.ID)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	payload := defaultRulePayload()
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := payload.validate(); err != nil {
		errorJSON(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	rule := payload.toRule(layer.ID)
	if err := s.repo.CreateRule(r.Context(), &rule); err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toRuleResponse(&rule))
}

// handleReplaceRules swaps the layer's whole rule set atomically; the posted
// list order becomes rule_order.
func (s *Server) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	var raw []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payloads := make([]rulePayload, 0, len(raw))
	for _, msg := range raw {
		p := defaultRulePayload()
		if err := json.Unmarshal(msg, &p); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := p.validate(); err != nil {
			errorJSON(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		payloads = append(payloads, p)
	}

	err := s.repo.WithTx(r.Context(), func(repo *store.Repo) error {
		if err := repo.DeleteRulesByLayer(r.Context(), layer.ID); err != nil {
			return err
		}
		for i := range payloads {
			rule := payloads[i].toRule(layer.ID)
			rule.RuleOrder = i
			if err := repo.CreateRule(r.Context(), &rule); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeRules(w, r, layer.ID)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	ruleID, err := strconv.ParseInt(chi.URLParam(r, "ruleID"), 10, 64)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	payload := defaultRulePayload()
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := payload.validate(); err != nil {
		errorJSON(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	rule := payload.toRule(layer.ID)
	rule.ID = ruleID
	switch err := s.repo.UpdateRule(r.Context(), &rule); {
	case errors.Is(err, store.ErrNotFound):
		errorJSON(w, http.StatusNotFound, fmt.Sprintf("Rule %d not found", ruleID))
	case err != nil:
		s.internalError(w, r, err)
	default:
		respondJSON(w, http.StatusOK, toRuleResponse(&rule))
	}
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	ruleID, err := strconv.ParseInt(chi.URLParam(r, "ruleID"), 10, 64)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	switch err := s.repo.DeleteRule(r.Context(), layer.ID, ruleID); {
	case errors.Is(err, store.ErrNotFound):
		errorJSON(w, http.StatusNotFound, fmt.Sprintf("Rule %d not found", ruleID))
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReorderRules rewrites rule_order from an ordered list of rule ids.
func (s *Server) handleReorderRules(w http.ResponseWriter, r *http.Request) {
	layer := s.layerFromPath(w, r)
	if layer == nil {
		return
	}
	var body struct {
		Order []int64 `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.repo.WithTx(r.Context(), func(repo *store.Repo) error {
		for i, ruleID := range body.Order {
			if err := repo.SetRuleOrder(r.Context(), layer.ID, ruleID, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeRules(w, r, layer.ID)
}
