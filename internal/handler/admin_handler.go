package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"attendance-service/internal/model"
	"attendance-service/internal/service"
	"attendance-service/internal/util"
)

// AdminHandler handles the administrative surface: devices, blocks,
// configuration, and the review queue.
type AdminHandler struct {
	admin  *service.AdminService
	logger *zap.Logger
}

func NewAdminHandler(admin *service.AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// RegisterRoutes registers admin routes. Authentication for these routes is
// expected to be enforced by the gateway in front of this service.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/devices", h.ListDevices)
			r.Post("/devices/{deviceID}/verify", h.VerifyDevice)
			r.Post("/devices/{deviceID}/revoke", h.RevokeDevice)

			r.Get("/block", h.GetBlock)
			r.Post("/block", h.BlockUser)
			r.Post("/unblock", h.UnblockUser)

			r.Get("/verdicts", h.UserVerdicts)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", h.GetConfiguration)
			r.Put("/", h.UpdateConfiguration)
		})

		r.Get("/review-queue", h.ReviewQueue)
	})
}

// -------------------- DEVICES --------------------

func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	bindings, err := h.admin.ListDevices(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list devices")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(bindings, "Devices retrieved"))
}

func (h *AdminHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	deviceID := chi.URLParam(r, "deviceID")

	if err := h.admin.VerifyDevice(r.Context(), userID, deviceID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to verify device")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Device verified"))
}

func (h *AdminHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	deviceID := chi.URLParam(r, "deviceID")

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for revocation.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.admin.RevokeDevice(r.Context(), userID, deviceID, req.Reason); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke device")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Device revoked"))
}

// -------------------- BLOCKS --------------------

func (h *AdminHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	record, err := h.admin.GetBlock(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get block")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(record, "Block retrieved"))
}

func (h *AdminHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Reason        string `json:"reason"`
		DurationHours int    `json:"duration_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	record, err := h.admin.BlockUser(r.Context(), userID, req.Reason,
		time.Duration(req.DurationHours)*time.Hour)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to block user")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(record, "User blocked"))
}

func (h *AdminHandler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		LiftedBy string `json:"lifted_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.LiftedBy == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("lifted_by is required"), "Missing lifted_by")
		return
	}

	if err := h.admin.UnblockUser(r.Context(), userID, req.LiftedBy); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to unblock user")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "User unblocked"))
}

// -------------------- CONFIGURATION --------------------

func (h *AdminHandler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg := h.admin.ActiveConfiguration(r.Context())
	h.respondWithJSON(w, http.StatusOK, successResponse(cfg, "Active configuration retrieved"))
}

func (h *AdminHandler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	var cfg model.RiskConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.admin.UpdateConfiguration(r.Context(), &cfg); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to update configuration")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(cfg, "Configuration updated"))
	h.logger.Info("Risk configuration updated via HTTP",
		util.String("config_id", cfg.ConfigID),
		util.Int("version", cfg.Version),
	)
}

// -------------------- AUDIT --------------------

func (h *AdminHandler) UserVerdicts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	verdicts, err := h.admin.UserVerdicts(r.Context(), userID, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list verdicts")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(verdicts, "Verdicts retrieved"))
}

func (h *AdminHandler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	action := model.Action(r.URL.Query().Get("action"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	verdicts, err := h.admin.ReviewQueue(r.Context(), action, limit)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to search review queue")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(verdicts, "Review queue retrieved"))
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AdminHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *AdminHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrDeviceNotFound), errors.Is(err, model.ErrBlockNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDeviceLimitExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
