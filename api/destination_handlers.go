package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"chronicle/core"
	"chronicle/storage"
	"chronicle/util"
)

// destinationRequest is the body for creating and updating destinations
type destinationRequest struct {
	ID      string                 `json:"id,omitempty" validate:"max=100"`
	Name    string                 `json:"name" validate:"required,max=200"`
	Type    string                 `json:"type" validate:"required,oneof=email slack discord telegram webhook"`
	Config  map[string]interface{} `json:"config" validate:"max=50"`
	Enabled *bool                  `json:"enabled,omitempty"`

	// Accepted so a fetched destination can be sent back unchanged; ignored.
	CreatedAt *time.Time `json:"created_at,omitempty" validate:"-"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" validate:"-"`
}

func (req destinationRequest) toDestination(defaultEnabled bool) core.Destination {
	d := core.Destination{
		ID:      req.ID,
		Name:    req.Name,
		Type:    core.DestinationType(strings.ToLower(req.Type)),
		Config:  req.Config,
		Enabled: defaultEnabled,
	}
	if req.Enabled != nil {
		d.Enabled = *req.Enabled
	}
	if d.Config == nil {
		d.Config = map[string]interface{}{}
	}
	return d
}

// destinationResponse is a destination with secrets redacted
type destinationResponse struct {
	core.Destination
	CircuitState string `json:"circuit_state,omitempty"`
}

func (a *API) newDestinationResponse(d core.Destination) destinationResponse {
	d.Config = util.SanitizeMap(d.Config)
	resp := destinationResponse{Destination: d}
	if a.tester != nil {
		resp.CircuitState = string(a.tester.BreakerState(d.ID))
	}
	return resp
}

// restoreRedacted puts back stored secrets that a client echoed as REDACTED
func restoreRedacted(incoming, stored map[string]interface{}) {
	for k, v := range incoming {
		switch typed := v.(type) {
		case string:
			if typed == util.Redacted {
				if old, ok := stored[k]; ok {
					incoming[k] = old
				}
			}
		case map[string]interface{}:
			if old, ok := stored[k].(map[string]interface{}); ok {
				restoreRedacted(typed, old)
			}
		}
	}
}

// destinationError maps storage errors to responses
func (a *API) destinationError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, storage.ErrDestinationNotFound):
		writeError(w, http.StatusNotFound, "Destination not found", nil, a.logger)
	case errors.Is(err, storage.ErrDuplicateDestination):
		writeError(w, http.StatusConflict, "Destination already exists", nil, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to "+action, err, a.logger)
	}
}

func (a *API) destinationsAvailable(w http.ResponseWriter) bool {
	if a.destinations == nil {
		writeError(w, http.StatusServiceUnavailable, "Destination storage not available", nil, a.logger)
		return false
	}
	return true
}

// getDestinations godoc
//
//	@Summary		List destinations
//	@Description	Returns every notification destination. Secret config values are redacted.
//	@Tags			destinations
//	@Produce		json
//	@Success		200	{array}		destinationResponse
//	@Router			/destinations [get]
func (a *API) getDestinations(w http.ResponseWriter, r *http.Request) {
	if !a.destinationsAvailable(w) {
		return
	}
	destinations, err := a.destinations.ListDestinations(r.Context())
	if err != nil {
		a.destinationError(w, err, "list destinations")
		return
	}
	resp := make([]destinationResponse, 0, len(destinations))
	for _, d := range destinations {
		resp = append(resp, a.newDestinationResponse(d))
	}
	a.respondJSON(w, resp, http.StatusOK)
}

// getDestination godoc
//
//	@Summary	Get destination
//	@Tags		destinations
//	@Produce	json
//	@Param		id	path		string	true	"Destination ID"
//	@Success	200	{object}	destinationResponse
//	@Failure	404	{string}	string
//	@Router		/destinations/{id} [get]
func (a *API) getDestination(w http.ResponseWriter, r *http.Request) {
	if !a.destinationsAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	d, err := a.destinations.GetDestination(r.Context(), id)
	if err != nil {
		a.destinationError(w, err, "get destination")
		return
	}
	a.respondJSON(w, a.newDestinationResponse(*d), http.StatusOK)
}

// createDestination godoc
//
//	@Summary	Create destination
//	@Tags		destinations
//	@Accept		json
//	@Produce	json
//	@Param		destination	body		destinationRequest	true	"Destination"
//	@Success	201			{object}	destinationResponse
//	@Failure	400			{object}	validationResponse
//	@Failure	409			{string}	string
//	@Router		/destinations [post]
func (a *API) createDestination(w http.ResponseWriter, r *http.Request) {
	if !a.destinationsAvailable(w) {
		return
	}
	var req destinationRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := a.validateRequest(w, req); err != nil {
		return
	}

	d := req.toDestination(true)
	if err := a.destinations.CreateDestination(r.Context(), &d); err != nil {
		a.destinationError(w, err, "create destination")
		return
	}
	a.respondJSON(w, a.newDestinationResponse(d), http.StatusCreated)
}

// updateDestination godoc
//
//	@Summary		Update destination
//	@Description	Replaces a destination. Config values sent as REDACTED keep their stored value.
//	@Tags			destinations
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Destination ID"
//	@Param			destination	body		destinationRequest	true	"Destination"
//	@Success		200			{object}	destinationResponse
//	@Failure		404			{string}	string
//	@Router			/destinations/{id} [put]
func (a *API) updateDestination(w http.ResponseWriter, r *http.Request) {
	if !a.destinationsAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	var req destinationRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := a.validateRequest(w, req); err != nil {
		return
	}
	if req.ID != "" && req.ID != id {
		a.respondValidation(w, []string{"destination id in body does not match path"})
		return
	}

	existing, err := a.destinations.GetDestination(r.Context(), id)
	if err != nil {
		a.destinationError(w, err, "update destination")
		return
	}

	d := req.toDestination(existing.Enabled)
	restoreRedacted(d.Config, existing.Config)
	if err := a.destinations.UpdateDestination(r.Context(), id, &d); err != nil {
		a.destinationError(w, err, "update destination")
		return
	}
	a.respondJSON(w, a.newDestinationResponse(d), http.StatusOK)
}

// deleteDestination godoc
//
//	@Summary	Delete destination
//	@Tags		destinations
//	@Param		id	path	string	true	"Destination ID"
//	@Success	204
//	@Failure	404	{string}	string
//	@Router		/destinations/{id} [delete]
func (a *API) deleteDestination(w http.ResponseWriter, r *http.Request) {
	if !a.destinationsAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	if err := a.destinations.DeleteDestination(r.Context(), id); err != nil {
		a.destinationError(w, err, "delete destination")
		return
	}
	a.logger.Infow("Destination deleted", "destination_id", id, "actor", actor(r))
	w.WriteHeader(http.StatusNoContent)
}

// testDestination godoc
//
//	@Summary		Test destination
//	@Description	Sends a test notification to a stored destination, ignoring its enabled flag and rate limit
//	@Tags			destinations
//	@Produce		json
//	@Param			id	path		string	true	"Destination ID"
//	@Success		200	{object}	map[string]interface{}
//	@Failure		404	{string}	string
//	@Failure		502	{object}	map[string]interface{}
//	@Router			/destinations/{id}/test [post]
func (a *API) testDestination(w http.ResponseWriter, r *http.Request) {
	if !a.destinationsAvailable(w) {
		return
	}
	if a.tester == nil {
		writeError(w, http.StatusServiceUnavailable, "Notifications not available", nil, a.logger)
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	d, err := a.destinations.GetDestination(r.Context(), id)
	if err != nil {
		a.destinationError(w, err, "test destination")
		return
	}

	if err := a.tester.Test(r.Context(), *d); err != nil {
		a.logger.Warnw("Destination test failed", "destination_id", id, "type", d.Type, "error", util.SanitizeError(err))
		a.respondJSON(w, map[string]interface{}{
			"id":      id,
			"success": false,
			"error":   sanitizeErrorMessage(err.Error()),
		}, http.StatusBadGateway)
		return
	}
	a.respondJSON(w, map[string]interface{}{"id": id, "success": true}, http.StatusOK)
}
