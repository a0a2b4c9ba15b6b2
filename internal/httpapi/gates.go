package httpapi

import (
	"net/http"

	"github.com/tascade/tascade/internal/domain"
)

type createGateRuleRequest struct {
	Name       string             `json:"name"`
	Trigger    domain.GateTrigger `json:"trigger"`
	MatchValue string             `json:"match_value"`
	Required   bool               `json:"required"`
}

func (h *handlers) createGateRule(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := requireRole(r, domain.RoleAdmin, domain.RoleOperator); err != nil {
		writeError(w, err)
		return
	}
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	var req createGateRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rule, err := h.app.Gate.CreateRule(r.Context(), domain.GateRule{
		ProjectID:  projectID,
		Name:       req.Name,
		Trigger:    req.Trigger,
		MatchValue: req.MatchValue,
		Required:   req.Required,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *handlers) listGateRules(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	activeOnly := r.URL.Query().Get("active_only") == "true"
	rules, err := h.app.Stores.Gate.ListGateRules(r.Context(), projectID, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *handlers) evaluateGates(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	links, err := h.app.Gate.Evaluate(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

type recordGateDecisionRequest struct {
	Reviewer     string                     `json:"reviewer"`
	Outcome      domain.GateDecisionOutcome `json:"outcome"`
	Notes        string                     `json:"notes"`
	CandidateIDs []string                   `json:"candidate_ids"`
}

func (h *handlers) recordGateDecision(w http.ResponseWriter, r *http.Request) {
	gateRuleID := pathVar(r, "id")
	rule, err := h.app.Stores.Gate.GetGateRule(r.Context(), gateRuleID)
	if err != nil {
		writeNotFound(w, "gate rule not found")
		return
	}
	if err := authorizeProject(r, rule.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	var req recordGateDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	decision, err := h.app.Gate.RecordDecision(r.Context(), gateRuleID, req.Reviewer, req.Outcome, req.Notes, req.CandidateIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, decision)
}
