package api

import (
	"errors"
	"net/http"
	"time"

	"chronicle/core"
	"chronicle/service"
	"chronicle/storage"
)

// ruleRequest is the body for creating, updating and checking rules
type ruleRequest struct {
	ID           string      `json:"id,omitempty" validate:"max=100"`
	Name         string      `json:"name" validate:"required,max=200"`
	Kind         string      `json:"kind,omitempty" validate:"omitempty,oneof=custom preset"`
	Preset       string      `json:"preset,omitempty" validate:"max=100"`
	Conditions   interface{} `json:"conditions,omitempty"`
	Destinations []string    `json:"destinations,omitempty" validate:"max=50,dive,required,max=100"`
	Enabled      *bool       `json:"enabled,omitempty"`

	// Accepted so a fetched rule can be sent back unchanged; ignored.
	CreatedAt *time.Time `json:"created_at,omitempty" validate:"-"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" validate:"-"`
}

func (req ruleRequest) toRule(defaultEnabled bool) core.AlertRule {
	rule := core.AlertRule{
		ID:           req.ID,
		Name:         req.Name,
		Kind:         core.RuleKind(req.Kind),
		Preset:       req.Preset,
		Conditions:   req.Conditions,
		Destinations: req.Destinations,
		Enabled:      defaultEnabled,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if rule.Destinations == nil {
		rule.Destinations = []string{}
	}
	return rule
}

// ruleTestRequest pairs a rule, stored or inline, with a sample event
type ruleTestRequest struct {
	RuleID string       `json:"rule_id,omitempty" validate:"max=100"`
	Rule   *ruleRequest `json:"rule,omitempty" validate:"-"`
	Event  eventRequest `json:"event"`
}

// ruleTestResponse is the dry-run outcome
type ruleTestResponse struct {
	Matched     bool   `json:"matched"`
	Description string `json:"description"`
}

// ruleError maps service and storage errors to responses
func (a *API) ruleError(w http.ResponseWriter, err error, action string) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		a.respondValidation(w, validationErr.Errors)
	case errors.Is(err, storage.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "Rule not found", nil, a.logger)
	case errors.Is(err, storage.ErrDuplicateRule):
		writeError(w, http.StatusConflict, "Rule already exists", nil, a.logger)
	case errors.Is(err, storage.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to "+action, err, a.logger)
	}
}

func (a *API) rulesAvailable(w http.ResponseWriter) bool {
	if a.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "Rule management not available", nil, a.logger)
		return false
	}
	return true
}

// getRules godoc
//
//	@Summary		List rules
//	@Description	Returns every alert rule in evaluation order
//	@Tags			rules
//	@Produce		json
//	@Success		200	{array}		core.AlertRule
//	@Failure		500	{string}	string
//	@Router			/rules [get]
func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	if !a.rulesAvailable(w) {
		return
	}
	rules, err := a.rules.ListRules(r.Context())
	if err != nil {
		a.ruleError(w, err, "list rules")
		return
	}
	if rules == nil {
		rules = []core.AlertRule{}
	}
	a.respondJSON(w, rules, http.StatusOK)
}

// getRule godoc
//
//	@Summary		Get rule
//	@Description	Get an alert rule by ID
//	@Tags			rules
//	@Produce		json
//	@Param			id	path		string	true	"Rule ID"
//	@Success		200	{object}	core.AlertRule
//	@Failure		404	{string}	string
//	@Router			/rules/{id} [get]
func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	if !a.rulesAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	rule, err := a.rules.GetRule(r.Context(), id)
	if err != nil {
		a.ruleError(w, err, "get rule")
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

// createRule godoc
//
//	@Summary		Create rule
//	@Description	Creates a custom or preset alert rule. Rules are enabled unless enabled=false is sent.
//	@Tags			rules
//	@Accept			json
//	@Produce		json
//	@Param			rule	body		ruleRequest	true	"Rule"
//	@Success		201		{object}	core.AlertRule
//	@Failure		400		{object}	validationResponse
//	@Failure		409		{string}	string
//	@Router			/rules [post]
func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	if !a.rulesAvailable(w) {
		return
	}
	var req ruleRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := a.validateRequest(w, req); err != nil {
		return
	}

	rule := req.toRule(true)
	if err := a.rules.CreateRule(r.Context(), &rule); err != nil {
		a.ruleError(w, err, "create rule")
		return
	}
	a.logger.Infow("Alert rule created", "rule_id", rule.ID, "kind", rule.Kind, "actor", actor(r))
	a.respondJSON(w, rule, http.StatusCreated)
}

// updateRule godoc
//
//	@Summary		Update rule
//	@Description	Replaces an alert rule. An omitted enabled flag keeps the stored value.
//	@Tags			rules
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Rule ID"
//	@Param			rule	body		ruleRequest	true	"Rule"
//	@Success		200		{object}	core.AlertRule
//	@Failure		400		{object}	validationResponse
//	@Failure		404		{string}	string
//	@Router			/rules/{id} [put]
func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	if !a.rulesAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	var req ruleRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := a.validateRequest(w, req); err != nil {
		return
	}
	if req.ID != "" && req.ID != id {
		a.respondValidation(w, []string{"rule id in body does not match path"})
		return
	}

	existing, err := a.rules.GetRule(r.Context(), id)
	if err != nil {
		a.ruleError(w, err, "update rule")
		return
	}

	rule := req.toRule(existing.Enabled)
	rule.ID = id
	if err := a.rules.UpdateRule(r.Context(), id, &rule); err != nil {
		a.ruleError(w, err, "update rule")
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

// deleteRule godoc
//
//	@Summary		Delete rule
//	@Tags			rules
//	@Param			id	path	string	true	"Rule ID"
//	@Success		204
//	@Failure		404	{string}	string
//	@Router			/rules/{id} [delete]
func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	if !a.rulesAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	if err := a.rules.DeleteRule(r.Context(), id); err != nil {
		a.ruleError(w, err, "delete rule")
		return
	}
	a.logger.Infow("Alert rule deleted", "rule_id", id, "actor", actor(r))
	w.WriteHeader(http.StatusNoContent)
}

// enableRule godoc
//
//	@Summary	Enable rule
//	@Tags		rules
//	@Param		id	path	string	true	"Rule ID"
//	@Success	200	{object}	map[string]interface{}
//	@Router		/rules/{id}/enable [post]
func (a *API) enableRule(w http.ResponseWriter, r *http.Request) {
	a.setRuleEnabled(w, r, true)
}

// disableRule godoc
//
//	@Summary	Disable rule
//	@Tags		rules
//	@Param		id	path	string	true	"Rule ID"
//	@Success	200	{object}	map[string]interface{}
//	@Router		/rules/{id}/disable [post]
func (a *API) disableRule(w http.ResponseWriter, r *http.Request) {
	a.setRuleEnabled(w, r, false)
}

func (a *API) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if !a.rulesAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	if err := a.rules.SetEnabled(r.Context(), id, enabled); err != nil {
		a.ruleError(w, err, "update rule")
		return
	}
	a.respondJSON(w, map[string]interface{}{"id": id, "enabled": enabled}, http.StatusOK)
}

// validateRule godoc
//
//	@Summary		Validate rule
//	@Description	Checks a rule without storing it. Always 200; the body says whether it is valid.
//	@Tags			rules
//	@Accept			json
//	@Produce		json
//	@Param			rule	body		ruleRequest	true	"Rule"
//	@Success		200		{object}	validationResponse
//	@Router			/rules/validate [post]
func (a *API) validateRule(w http.ResponseWriter, r *http.Request) {
	if !a.rulesAvailable(w) {
		return
	}
	var req ruleRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	var problems []string
	if err := a.validate.Struct(req); err != nil {
		problems = append(problems, fieldProblems(err)...)
	}
	rule := req.toRule(true)
	if err := a.rules.CheckRule(&rule); err != nil {
		var validationErr *service.ValidationError
		if !errors.As(err, &validationErr) {
			writeError(w, http.StatusInternalServerError, "Failed to validate rule", err, a.logger)
			return
		}
		problems = append(problems, validationErr.Errors...)
	}

	resp := validationResponse{Valid: len(problems) == 0, Errors: dedupe(problems)}
	a.respondJSON(w, resp, http.StatusOK)
}

// describeRule godoc
//
//	@Summary		Describe rule
//	@Description	Returns a plain language summary of what a rule matches
//	@Tags			rules
//	@Accept			json
//	@Produce		json
//	@Param			rule	body		ruleRequest	true	"Rule"
//	@Success		200		{object}	map[string]string
//	@Router			/rules/describe [post]
func (a *API) describeRule(w http.ResponseWriter, r *http.Request) {
	if !a.rulesAvailable(w) {
		return
	}
	var req ruleRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	rule := req.toRule(true)
	rule.Normalize()
	a.respondJSON(w, map[string]string{"description": a.rules.DescribeRule(rule)}, http.StatusOK)
}

// testRule godoc
//
//	@Summary		Test rule
//	@Description	Evaluates a stored or inline rule against a sample event. Nothing is sent.
//	@Tags			rules
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ruleTestRequest	true	"Rule and event"
//	@Success		200		{object}	ruleTestResponse
//	@Failure		400		{object}	validationResponse
//	@Failure		404		{string}	string
//	@Router			/rules/test [post]
func (a *API) testRule(w http.ResponseWriter, r *http.Request) {
	if !a.rulesAvailable(w) {
		return
	}
	var req ruleTestRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := a.validateRequest(w, req); err != nil {
		return
	}

	var rule core.AlertRule
	switch {
	case req.Rule != nil && req.RuleID != "":
		a.respondValidation(w, []string{"send either rule or rule_id, not both"})
		return
	case req.Rule != nil:
		rule = req.Rule.toRule(true)
	case req.RuleID != "":
		stored, err := a.rules.GetRule(r.Context(), req.RuleID)
		if err != nil {
			a.ruleError(w, err, "load rule")
			return
		}
		rule = *stored
	default:
		a.respondValidation(w, []string{"rule or rule_id is required"})
		return
	}

	event := req.Event.toEvent()
	if err := service.PrepareEvent(event); err != nil {
		a.respondValidation(w, []string{err.Error()})
		return
	}

	rule.Normalize()
	a.respondJSON(w, ruleTestResponse{
		Matched:     a.rules.TestRule(r.Context(), rule, event),
		Description: a.rules.DescribeRule(rule),
	}, http.StatusOK)
}

func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
