package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/api/middleware"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	ID    string `json:"id,omitempty"`
}

// StatusFor maps a schedule error kind to an HTTP status.
func StatusFor(err error) int {
	switch schedule.KindOf(err) {
	case schedule.KindValidation:
		return http.StatusBadRequest
	case schedule.KindNoMedicinesFound:
		return http.StatusUnprocessableEntity
	case schedule.KindNotFound:
		return http.StatusNotFound
	case schedule.KindForbidden:
		return http.StatusForbidden
	case schedule.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{Error: message})
}

// writeError renders err. Internal errors are logged and not echoed.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		jsonError(w, "internal server error", code)
		return
	}
	resp := ErrorResponse{Error: err.Error(), Kind: string(schedule.KindOf(err))}
	var se *schedule.Error
	if errors.As(err, &se) {
		resp.Error = se.Msg
		resp.ID = se.ID
	}
	writeJSON(w, code, resp)
}

// decode reads a JSON body. An empty body leaves v untouched when optional.
func decode(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return schedule.Validation("body", "invalid request body: %v", err)
	}
	return nil
}
