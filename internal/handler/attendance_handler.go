package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"attendance-service/internal/model"
	"attendance-service/internal/service"
	"attendance-service/internal/util"
)

// AttendanceHandler handles HTTP requests for attendance validation.
type AttendanceHandler struct {
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

func NewAttendanceHandler(orchestrator *service.Orchestrator, logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers attendance validation routes.
func (h *AttendanceHandler) RegisterRoutes(router chi.Router) {
	router.Route("/attendance", func(r chi.Router) {
		r.Post("/validate", h.ValidateAttempt)
		r.Post("/dry-run", h.DryRunAttempt)
	})
}

// ValidateAttempt evaluates one check-in/check-out attempt and returns the
// verdict. A standing block yields 403 with the block verdict attached.
func (h *AttendanceHandler) ValidateAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var attempt model.AttendanceAttempt
	if err := json.NewDecoder(r.Body).Decode(&attempt); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.orchestrator.Validate(ctx, &attempt)
	if err != nil {
		if errors.Is(err, model.ErrUserBlocked) && result != nil {
			h.respondWithJSON(w, http.StatusForbidden, Response{
				Success: false,
				Data:    result,
				Error:   err.Error(),
				Message: "User is blocked",
			})
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Attendance validation failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Attendance attempt evaluated"))
	h.logger.Info("Attendance validated via HTTP",
		util.String("user_id", attempt.UserID),
		util.String("action", string(result.Verdict.ActionTaken)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ValidateAttempt"),
	)
}

// DryRunAttempt scores a payload against the current configuration without
// persisting anything. Intended for admin tooling.
func (h *AttendanceHandler) DryRunAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var attempt model.AttendanceAttempt
	if err := json.NewDecoder(r.Body).Decode(&attempt); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.orchestrator.DryRun(ctx, &attempt)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Dry run failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Dry run evaluated"))
}

func (h *AttendanceHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AttendanceHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *AttendanceHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNoActiveWorkLocation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrDeviceLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, model.ErrUserBlocked):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
