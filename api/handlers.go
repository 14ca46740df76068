package api

import (
	"context"
	"net/http"
	"time"

	"chronicle/detect"
)

// getPresets godoc
//
//	@Summary		List presets
//	@Description	Returns the built-in rule presets and the message types they cover
//	@Tags			presets
//	@Produce		json
//	@Success		200	{array}	detect.Preset
//	@Router			/presets [get]
func (a *API) getPresets(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, detect.Presets(), http.StatusOK)
}

// healthCheck godoc
//
//	@Summary		Health check
//	@Description	Reports service health. Returns 503 when the rule store is unreachable.
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Failure		503	{object}	map[string]string
//	@Router			/health [get]
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health.HealthCheck(ctx); err != nil {
			a.logger.Warnw("Health check failed", "error", err)
			a.respondJSON(w, map[string]string{"status": "unhealthy", "database": "unavailable"}, http.StatusServiceUnavailable)
			return
		}
	}
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
