package api

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"chronicle/core"
	"chronicle/notify"
	"chronicle/service"
	"chronicle/util"
	"github.com/vmihailenco/msgpack/v5"
)

const contentTypeMsgpack = "application/msgpack"

// eventRequest is the ingest payload, accepted as JSON or MessagePack
type eventRequest struct {
	ID        string                 `json:"id,omitempty" msgpack:"id,omitempty" validate:"max=100"`
	Timestamp *time.Time             `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Logger    string                 `json:"logger" msgpack:"logger" validate:"required,max=200"`
	Level     string                 `json:"level" msgpack:"level" validate:"max=50"`
	Message   string                 `json:"message,omitempty" msgpack:"message,omitempty" validate:"max=65536"`
	Context   map[string]interface{} `json:"context,omitempty" msgpack:"context,omitempty" validate:"max=500"`
}

func (req eventRequest) toEvent() *core.Event {
	event := &core.Event{
		ID:      req.ID,
		Logger:  req.Logger,
		Level:   req.Level,
		Message: req.Message,
		Context: req.Context,
	}
	if req.Timestamp != nil {
		event.Timestamp = req.Timestamp.UTC()
	}
	if event.Context == nil {
		event.Context = make(map[string]interface{})
	}
	return event
}

// deliveryResponse reports one destination send
type deliveryResponse struct {
	DestinationID string               `json:"destination_id"`
	Type          core.DestinationType `json:"type"`
	RuleIDs       []string             `json:"rule_ids"`
	Status        string               `json:"status"`
	Error         string               `json:"error,omitempty"`
}

// processResponse is returned by synchronous ingest
type processResponse struct {
	EventID    string             `json:"event_id"`
	Excluded   bool               `json:"excluded"`
	Matched    []string           `json:"matched_rules"`
	Deliveries []deliveryResponse `json:"deliveries"`
}

func newProcessResponse(result *service.ProcessResult) processResponse {
	resp := processResponse{
		EventID:    result.EventID,
		Excluded:   result.Excluded,
		Matched:    result.Matched,
		Deliveries: make([]deliveryResponse, 0, len(result.Deliveries)),
	}
	if resp.Matched == nil {
		resp.Matched = []string{}
	}
	for _, d := range result.Deliveries {
		resp.Deliveries = append(resp.Deliveries, newDeliveryResponse(d))
	}
	return resp
}

func newDeliveryResponse(d notify.Delivery) deliveryResponse {
	resp := deliveryResponse{DestinationID: d.DestinationID, Type: d.Type, RuleIDs: d.RuleIDs, Status: "sent"}
	if d.Err != nil {
		resp.Status = "failed"
		resp.Error = util.SanitizeError(d.Err)
	}
	return resp
}

// ingestEvent godoc
//
//	@Summary		Ingest event
//	@Description	Runs a logged event through alert rule matching. With wait=true the event is processed before responding.
//	@Tags			events
//	@Accept			json
//	@Accept			application/msgpack
//	@Produce		json
//	@Param			wait	query		bool	false	"Process synchronously"
//	@Success		200		{object}	processResponse
//	@Success		202		{object}	map[string]string
//	@Failure		400		{string}	string
//	@Failure		503		{string}	string
//	@Router			/events [post]
func (a *API) ingestEvent(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, http.StatusServiceUnavailable, "Event processing not available", nil, a.logger)
		return
	}

	var req eventRequest
	if err := a.decodeEvent(w, r, &req); err != nil {
		return
	}
	if err := a.validateRequest(w, req); err != nil {
		return
	}
	event := req.toEvent()

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait {
		result, err := a.events.Process(r.Context(), event)
		if err != nil {
			if errors.Is(err, service.ErrInvalidEvent) {
				writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to process event", err, a.logger)
			return
		}
		a.respondJSON(w, newProcessResponse(result), http.StatusOK)
		return
	}

	if err := a.events.Submit(event); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidEvent):
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		case errors.Is(err, core.ErrWorkerPoolQueueFull), errors.Is(err, core.ErrWorkerPoolNotRunning):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "Event queue unavailable", err, a.logger)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to queue event", err, a.logger)
		}
		return
	}

	a.respondJSON(w, map[string]string{"event_id": event.ID, "status": "queued"}, http.StatusAccepted)
}

// decodeEvent reads the body as MessagePack or JSON depending on Content-Type
func (a *API) decodeEvent(w http.ResponseWriter, r *http.Request, req *eventRequest) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != contentTypeMsgpack && mediaType != "application/x-msgpack" {
		return a.decodeJSONBody(w, r, req)
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.MaxBodyBytes)
	dec := msgpack.NewDecoder(r.Body)
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(req); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil, a.logger)
		} else {
			writeError(w, http.StatusBadRequest, "Invalid MessagePack body", nil, a.logger)
		}
		return err
	}
	return nil
}
