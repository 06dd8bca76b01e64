package utils

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its status code. Errors that are not an AppError
// are reported as database_error without their internal detail.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewAppError(ErrDatabase, "internal error", err)
	}
	WriteJSON(w, AppErrorToHTTPStatus(appErr.Code), ErrorBody{Error: appErr.Code, Message: appErr.Message})
}
