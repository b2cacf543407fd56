package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func successResponse(data any, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err to its status and client-safe message. The
// internal cause is only logged.
func respondWithError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	fields := []zap.Field{
		util.ErrorField(err),
		util.Int("status_code", status),
		util.String("kind", apperr.KindOf(err).String()),
		util.String("path", r.URL.Path),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("HTTP error response", fields...)
	} else {
		logger.Warn("HTTP error response", fields...)
	}
	respondWithJSON(w, logger, status, Response{Success: false, Error: apperr.PublicMessage(err)})
}
