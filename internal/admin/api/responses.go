package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/middleware"
	"github.com/gorillaerror/xui-central/pkg/api"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusOK, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteError logs an error and translates it into an HTTP response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log := middleware.GetLogger(ctx)
	requestID := middleware.GetRequestID(ctx)

	log.ErrorCtx(ctx, "request failed", err)

	statusCode, code := mapError(err)
	message := err.Error()
	if statusCode == http.StatusInternalServerError {
		// Internal detail stays in the logs.
		message = "an internal server error occurred"
	}

	_ = WriteJSON(w, statusCode, api.Response[any]{
		Success: false,
		Error: &api.ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}

func mapError(err error) (int, string) {
	switch {
	case stderrors.Is(err, errors.ErrClientNotFound),
		stderrors.Is(err, errors.ErrNodeNotFound),
		stderrors.Is(err, errors.ErrKeyNotFound):
		return http.StatusNotFound, "not_found"
	case stderrors.Is(err, errors.ErrDuplicateClient),
		stderrors.Is(err, errors.ErrDuplicateNode):
		return http.StatusConflict, "conflict"
	case stderrors.Is(err, errors.ErrNodeDisabled):
		return http.StatusConflict, "node_disabled"
	case stderrors.Is(err, errors.ErrInvalidConfig):
		return http.StatusBadRequest, "validation_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// ParseJSONRequest decodes a JSON request body into dst.
func ParseJSONRequest(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
