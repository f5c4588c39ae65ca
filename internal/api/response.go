package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/api/middleware"
	"github.com/lzjever/mbos-wrt/internal/core"
)

// ErrorResponse represents a WRT error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a WRT error response.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteAccepted writes a 202 for work that completes asynchronously.
func WriteAccepted(w http.ResponseWriter, v interface{}) {
	WriteJSON(w, http.StatusAccepted, v)
}

// fail maps err onto the error taxonomy. Downstream faults are logged with
// their cause, which is never sent to the client.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *core.AppError
	if !errors.As(err, &appErr) {
		appErr = core.ServerError(err, "internal server error")
	}
	if !appErr.Code.CallerFault() {
		a.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r)),
			zap.Error(err),
		)
	}
	WriteError(w, appErr)
}

func decode(r *http.Request, v interface{}) *core.AppError {
	if r.Body == nil || r.ContentLength == 0 {
		return core.NewAppError(core.ErrBadRequest, "request body required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.NewAppError(core.ErrBadRequest, "invalid request body")
	}
	return nil
}

// parseFlag reads an optional boolean query parameter.
func parseFlag(r *http.Request, name string) (*bool, *core.AppError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, core.NewAppError(core.ErrBadRequest, "query parameter '"+name+"' must be true or false")
	}
	return &v, nil
}
