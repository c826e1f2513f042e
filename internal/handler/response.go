// internal/handler/response.go
package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes a successful response wrapping data.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// Error maps err to a status code and writes {success:false, message}.
// Internal errors are logged and their details hidden from the client.
func Error(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status := appErrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: appErrors.PublicMessage(err)})
}
