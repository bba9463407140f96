/*
handlers.go - HTTP API handlers for the redemption engine

PURPOSE:
  Exposes rewards.Service over REST. Handles HTTP request/response and JSON
  serialization, and delegates every rule to the rewards package.

ENDPOINTS:
  Creator (X-Client-ID + X-User-ID):
    GET    /api/rewards                              Catalog with statuses
    POST   /api/rewards/{rewardID}/claim             Claim a reward
    GET    /api/rewards/history                      Concluded redemptions
    POST   /api/redemptions/{redemptionID}/payment-info  Boost payout info

  Admin (X-Client-ID + X-Admin-ID):
    GET    /api/admin/boosts/{redemptionID}          Boost details
    POST   /api/admin/boosts/{redemptionID}/adjustment   Override payout
    POST   /api/admin/boosts/{redemptionID}/paid     Record payout
    POST   /api/admin/redemptions/{redemptionID}/fulfill|conclude|reject
    POST   /api/admin/gifts/{redemptionID}/shipped|delivered
    POST   /api/admin/users/{userID}/tier-change     Tier reconciliation
    POST   /api/admin/users/{userID}/claimable       Grant a claimable reward
    POST   /api/admin/activation/run                 Run the activation sweeps
    GET    /api/admin/activation/runs                Recent runs

TENANCY:
  X-Client-ID scopes every request. Authentication happens upstream; the
  headers are trusted as given.

ERROR HANDLING:
  Errors are returned as {"error": CODE, "message": ..., "details": ...}:
  - rule violations: status from their Kind (400/403/404/409)
  - generic.ErrInvalidTransition, generic.ErrConflict: 409
  - generic.ErrNotFound: 404
  - anything else: 500 INTERNAL_ERROR, logged, cause not exposed

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
	"github.com/warp/redemption-engine/rewards"
)

const (
	headerClientID = "X-Client-ID"
	headerUserID   = "X-User-ID"
	headerAdminID  = "X-Admin-ID"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *rewards.Service
	Log     logrus.FieldLogger

	// Health reports whether the backing store is reachable.
	Health func() error
}

// NewHandler creates a handler for svc.
func NewHandler(svc *rewards.Service, log logrus.FieldLogger) *Handler {
	return &Handler{Service: svc, Log: log, Health: func() error { return nil }}
}

type ctxKey int

const (
	keyClientID ctxKey = iota
	keyUserID
	keyAdminID
)

func ctxString(r *http.Request, key ctxKey) string {
	s, _ := r.Context().Value(key).(string)
	return s
}

func clientID(r *http.Request) string { return ctxString(r, keyClientID) }
func userID(r *http.Request) string   { return ctxString(r, keyUserID) }
func adminID(r *http.Request) string  { return ctxString(r, keyAdminID) }

// requireHeader rejects requests missing header and stores it under key.
func requireHeader(header string, key ctxKey, status int, code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := r.Header.Get(header)
			if v == "" {
				writeJSON(w, status, ErrorResponse{Error: code, Message: header + " header is required"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), key, v)))
		})
	}
}

// =============================================================================
// CREATOR HANDLERS
// =============================================================================

// ListRewards returns the creator's catalog with computed statuses.
// GET /api/rewards
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.Service.ListAvailable(r.Context(), clientID(r), userID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCatalogDTO(catalog))
}

// ClaimReward claims a reward for the creator.
// POST /api/rewards/{rewardID}/claim
func (h *Handler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Service.Claim(r.Context(), rewards.ClaimRequest{
		ClientID:              clientID(r),
		UserID:                userID(r),
		RewardID:              chi.URLParam(r, "rewardID"),
		ScheduledActivationAt: req.ScheduledActivationAt,
		SizeValue:             req.SizeValue,
		Shipping:              req.ShippingInfo,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toClaimResponse(result))
}

// History returns the creator's concluded redemptions.
// GET /api/rewards/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.History(r.Context(), clientID(r), userID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(history))
}

// SubmitPaymentInfo records where a boost payout goes.
// POST /api/redemptions/{redemptionID}/payment-info
func (h *Handler) SubmitPaymentInfo(w http.ResponseWriter, r *http.Request) {
	var req PaymentInfoRequest
	if !h.decode(w, r, &req) {
		return
	}

	boost, err := h.Service.SubmitPaymentInfo(r.Context(), rewards.PaymentInfoRequest{
		ClientID:       clientID(r),
		UserID:         userID(r),
		RedemptionID:   chi.URLParam(r, "redemptionID"),
		Method:         rewards.PaymentMethod(req.PaymentMethod),
		Account:        req.PaymentAccount,
		AccountConfirm: req.PaymentAccountConfirm,
		SaveAsDefault:  req.SaveAsDefault,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBoostDTO(*boost))
}

// =============================================================================
// BOOST ADMIN HANDLERS
// =============================================================================

// GetBoost returns a boost with its payout, payout destination and history.
// GET /api/admin/boosts/{redemptionID}
func (h *Handler) GetBoost(w http.ResponseWriter, r *http.Request) {
	details, err := h.Service.GetBoostDetails(r.Context(), clientID(r), chi.URLParam(r, "redemptionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBoostDetailsDTO(details))
}

// AdjustCommission overrides a boost payout.
// POST /api/admin/boosts/{redemptionID}/adjustment
func (h *Handler) AdjustCommission(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	boost, err := h.Service.AdjustCommission(r.Context(), clientID(r), chi.URLParam(r, "redemptionID"), req.Amount, adminID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBoostDTO(*boost))
}

// MarkBoostPaid records that the payout was sent.
// POST /api/admin/boosts/{redemptionID}/paid
func (h *Handler) MarkBoostPaid(w http.ResponseWriter, r *http.Request) {
	boost, err := h.Service.MarkBoostPaid(r.Context(), clientID(r), chi.URLParam(r, "redemptionID"), adminID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBoostDTO(*boost))
}

// =============================================================================
// REDEMPTION ADMIN HANDLERS
// =============================================================================

// FulfillRedemption marks an instant reward as delivered.
// POST /api/admin/redemptions/{redemptionID}/fulfill
func (h *Handler) FulfillRedemption(w http.ResponseWriter, r *http.Request) {
	var req FulfillRequest
	if !h.decode(w, r, &req) {
		return
	}
	red, err := h.Service.FulfillRedemption(r.Context(), clientID(r), chi.URLParam(r, "redemptionID"), req.Notes)
	h.writeRedemption(w, r, red, err)
}

// ConcludeRedemption closes a fulfilled redemption.
// POST /api/admin/redemptions/{redemptionID}/conclude
func (h *Handler) ConcludeRedemption(w http.ResponseWriter, r *http.Request) {
	red, err := h.Service.ConcludeRedemption(r.Context(), clientID(r), chi.URLParam(r, "redemptionID"))
	h.writeRedemption(w, r, red, err)
}

// RejectRedemption refuses a claim.
// POST /api/admin/redemptions/{redemptionID}/reject
func (h *Handler) RejectRedemption(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	red, err := h.Service.RejectRedemption(r.Context(), clientID(r), chi.URLParam(r, "redemptionID"), req.Reason)
	h.writeRedemption(w, r, red, err)
}

func (h *Handler) writeRedemption(w http.ResponseWriter, r *http.Request, red *rewards.Redemption, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*red))
}

// MarkGiftShipped records tracking details.
// POST /api/admin/gifts/{redemptionID}/shipped
func (h *Handler) MarkGiftShipped(w http.ResponseWriter, r *http.Request) {
	var req ShipmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	gift, err := h.Service.MarkGiftShipped(r.Context(), clientID(r), chi.URLParam(r, "redemptionID"), req.TrackingNumber, req.Carrier)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGiftDTO(gift))
}

// MarkGiftDelivered records delivery and fulfils the redemption.
// POST /api/admin/gifts/{redemptionID}/delivered
func (h *Handler) MarkGiftDelivered(w http.ResponseWriter, r *http.Request) {
	gift, err := h.Service.MarkGiftDelivered(r.Context(), clientID(r), chi.URLParam(r, "redemptionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGiftDTO(gift))
}

// =============================================================================
// USER ADMIN HANDLERS
// =============================================================================

// TierChange moves a creator between tiers.
// POST /api/admin/users/{userID}/tier-change
func (h *Handler) TierChange(w http.ResponseWriter, r *http.Request) {
	var req TierChangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Service.OnTierChange(r.Context(), rewards.TierChange{
		ClientID: clientID(r),
		UserID:   chi.URLParam(r, "userID"),
		FromTier: req.FromTier,
		ToTier:   req.ToTier,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TierChangeDTO{
		UserID:        res.UserID,
		FromTier:      res.FromTier,
		ToTier:        res.ToTier,
		Invalidated:   res.Invalidated,
		DeletedReason: res.DeletedReason,
	})
}

// GrantClaimable makes a reward claimable for a creator.
// POST /api/admin/users/{userID}/claimable
func (h *Handler) GrantClaimable(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !h.decode(w, r, &req) {
		return
	}
	red, err := h.Service.GrantClaimable(r.Context(), clientID(r), chi.URLParam(r, "userID"), req.RewardID, req.MissionProgressID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionDTO(*red))
}

// =============================================================================
// ACTIVATION HANDLERS
// =============================================================================

// RunActivation runs the activation sweeps for the caller's tenant.
// POST /api/admin/activation/run
func (h *Handler) RunActivation(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.RunScheduledActivation(r.Context(), clientID(r), "manual")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListActivationRuns returns recent runs, newest first.
// GET /api/admin/activation/runs?limit=N
func (h *Handler) ListActivationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: rewards.CodeValidation, Message: "limit must be a number"})
			return
		}
		limit = n
	}
	runs, err := h.Service.ListActivationRuns(r.Context(), clientID(r), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]ActivationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toActivationRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports store reachability.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Health(); err != nil {
		h.Log.WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads an optional JSON body into v. An empty body leaves v zero.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   rewards.CodeValidation,
			Message: fmt.Sprintf("Invalid request body: %v", err),
		})
		return false
	}
	return true
}

// writeServiceError maps a service error onto an HTTP response.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if re, ok := generic.AsRuleError(err); ok {
		writeJSON(w, statusForKind(re.Kind), ErrorResponse{Error: re.Code, Message: re.Message, Details: re.Details})
		return
	}

	switch {
	case errors.Is(err, generic.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "INVALID_TRANSITION", Message: err.Error()})
	case errors.Is(err, generic.ErrConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "CONFLICT", Message: "The request conflicts with the current state."})
	case errors.Is(err, generic.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: rewards.CodeNotFound, Message: "Not found."})
	default:
		h.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"client_id":  clientID(r),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL_ERROR", Message: "Something went wrong. Please try again."})
	}
}

func statusForKind(k generic.Kind) int {
	switch k {
	case generic.KindForbidden:
		return http.StatusForbidden
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
