package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"chronicle/core"
	"chronicle/util"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxIDLength = 100

var (
	filePathPattern   = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
	privateIPPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:10|127)(?:\.\d{1,3}){3}(?::\d{1,5})?\b`),
		regexp.MustCompile(`\b172\.(?:1[6-9]|2[0-9]|3[01])(?:\.\d{1,3}){2}(?::\d{1,5})?\b`),
		regexp.MustCompile(`\b192\.168(?:\.\d{1,3}){2}(?::\d{1,5})?\b`),
	}
	stackTracePattern = regexp.MustCompile(`(?m)^goroutine \d+.*$`)
)

// sanitizeErrorMessage removes sensitive information from error messages before sending to clients
func sanitizeErrorMessage(message string) string {
	message = util.SanitizeString(message)
	message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")

	// Only private addresses are hidden. Public ones help debug destinations.
	for _, pattern := range privateIPPatterns {
		message = pattern.ReplaceAllString(message, "[PRIVATE_IP]")
	}
	message = stackTracePattern.ReplaceAllString(message, "[STACK_TRACE]")

	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}
	return message
}

// writeError writes an error response to the client and logs it with proper sanitization
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else if statusCode >= http.StatusInternalServerError {
			logger.Errorw(message, "status_code", statusCode)
		} else {
			logger.Debugw(message, "status_code", statusCode)
		}
	}
	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

// respondJSON writes data as a JSON response
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response already started, can't send error to client
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// validationResponse is returned for requests rejected by rule checks
type validationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// respondValidation writes a 400 listing every validation problem
func (a *API) respondValidation(w http.ResponseWriter, problems []string) {
	if problems == nil {
		problems = []string{}
	}
	a.respondJSON(w, validationResponse{Valid: false, Errors: problems}, http.StatusBadRequest)
}

// decodeJSONBody decodes a JSON request body with the configured size limit
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return a.decodeJSONBodyWithLimit(w, r, dst, a.config.API.MaxBodyBytes)
}

// decodeJSONBodyWithLimit decodes a JSON request body with a size limit
func (a *API) decodeJSONBodyWithLimit(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON syntax at byte offset %d", syntaxError.Offset), nil, a.logger)
		case errors.As(err, &unmarshalTypeError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s': expected %s, got %s", unmarshalTypeError.Field, unmarshalTypeError.Type, unmarshalTypeError.Value), nil, a.logger)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("JSON contains %s", strings.TrimPrefix(err.Error(), "json: ")), nil, a.logger)
		case errors.As(err, &maxBytesError):
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil, a.logger)
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON body", nil, a.logger)
		}
		return err
	}

	return nil
}

// validateRequest runs struct tag validation and writes a 400 on failure
func (a *API) validateRequest(w http.ResponseWriter, req interface{}) error {
	err := a.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		writeError(w, http.StatusBadRequest, "Invalid request", err, a.logger)
		return err
	}
	a.respondValidation(w, fieldProblems(err))
	return err
}

// fieldProblems turns validator errors into readable messages
func fieldProblems(err error) []string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		problems = append(problems, describeFieldError(fe))
	}
	return problems
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

// pathID extracts and bounds the {id} path variable
func pathID(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger) (string, bool) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "ID is required", nil, logger)
		return "", false
	}
	if len(id) > maxIDLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("ID too long (max %d characters)", maxIDLength), nil, logger)
		return "", false
	}
	return id, true
}
