/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Tenant, creator and admin header checks
- Claiming and rule error mapping
- Commission boost lifecycle over HTTP
- Admin redemption, gift and tier change flows
- Activation runs, health and metrics endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/redemption-engine/generic"
	"github.com/warp/redemption-engine/metrics"
	"github.com/warp/redemption-engine/rewards"
	"github.com/warp/redemption-engine/store/sqlstore"
	"github.com/warp/redemption-engine/vault"
)

const (
	tenant  = "acme"
	testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// Monday 2025-06-02 12:00 UTC.
var monday = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

const catalogYAML = `
tenants:
  - client_id: acme
    tiers:
      - {id: tier_2, name: Silver, order: 2, commission_rate: "11"}
      - {id: tier_3, name: Gold, order: 3, commission_rate: "12"}
      - {id: tier_4, name: Platinum, order: 4, commission_rate: "15"}
    rewards:
      - id: gc-t3
        type: gift_card
        tier: tier_3
        quantity: 2
        frequency: monthly
        display_order: 1
        value_data: {amount: 50}
      - id: boost-t3
        type: commission_boost
        tier: tier_3
        quantity: 1
        display_order: 2
        value_data: {percent: 5, duration_days: 30}
      - id: gift-t3
        type: physical_gift
        tier: tier_3
        quantity: 1
        description: Hoodie
        display_order: 3
        value_data:
          requires_size: true
          size_category: clothing
          size_options: [S, M, L]
      - id: gc-t4
        type: gift_card
        tier: tier_4
        preview_from_tier: tier_3
        quantity: 5
        display_order: 4
        value_data: {amount: 200}
      - id: disc-t3
        type: discount
        tier: tier_3
        quantity: 1
        display_order: 5
        value_data: {percent: 10, durationMinutes: 1440, couponCode: GOLD10}
      - id: mission-t3
        type: gift_card
        tier: tier_3
        source: mission
        value_data: {amount: 25}
    users:
      - {id: user-1, handle: "@gold", tier: tier_3, tier_achieved_at: "2025-01-01", total_sales: "5000"}
      - {id: user-2, handle: "@other", tier: tier_3, tier_achieved_at: "2025-01-01", total_sales: "100"}
  - client_id: globex
    tiers:
      - {id: tier_3, name: Gold, order: 3}
    rewards:
      - id: globex-only
        type: gift_card
        tier: tier_3
        value_data: {amount: 5}
    users:
      - {id: user-1, tier: tier_3, tier_achieved_at: "2025-01-01"}
`

type testServer struct {
	t       *testing.T
	store   *sqlstore.Store
	clock   *generic.FixedClock
	handler *Handler
	metrics *metrics.Metrics
	limiter *RateLimiter
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalog, err := rewards.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	_, err = catalog.Seed(ctx, store, monday)
	require.NoError(t, err)

	v, err := vault.New(testKey)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	clock := generic.NewFixedClock(monday)
	m := metrics.New()
	svc := rewards.NewService(store, v,
		rewards.WithClock(clock),
		rewards.WithLogger(logger),
		rewards.WithObserver(m),
	)

	h := NewHandler(svc, logger)
	h.Health = store.Ping

	limiter := NewRateLimiter(100, 100)
	limiter.now = func() time.Time { return monday }

	return &testServer{
		t:       t,
		store:   store,
		clock:   clock,
		handler: h,
		metrics: m,
		limiter: limiter,
		router:  NewRouter(h, RouterOptions{Metrics: m, ClaimLimiter: limiter}),
	}
}

func creator(userID string) map[string]string {
	return map[string]string{headerClientID: tenant, headerUserID: userID}
}

func admin() map[string]string {
	return map[string]string{headerClientID: tenant, headerAdminID: "admin-1"}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) claim(userID, rewardID string, body any) RedemptionDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/rewards/"+rewardID+"/claim", body, creator(userID))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ClaimResponse](s.t, rec).Redemption
}

func (s *testServer) runActivation() map[string]any {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/admin/activation/run", nil, admin())
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[map[string]any](s.t, rec)
}

func (s *testServer) setSales(userID, sales string) {
	s.t.Helper()
	ctx := context.Background()
	u, err := s.store.GetUser(ctx, tenant, userID)
	require.NoError(s.t, err)
	d := decimal.RequireFromString(sales)
	u.TotalSales = &d
	require.NoError(s.t, s.store.SaveUser(ctx, *u))
}

func findReward(rs []RewardDTO, id string) *RewardDTO {
	for i := range rs {
		if rs[i].ID == id {
			return &rs[i]
		}
	}
	return nil
}

// =============================================================================
// HEADERS
// =============================================================================

func TestHeaders_Required(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		status  int
		code    string
	}{
		{"no tenant", http.MethodGet, "/api/rewards", map[string]string{headerUserID: "user-1"}, http.StatusBadRequest, rewards.CodeValidation},
		{"no creator", http.MethodGet, "/api/rewards", map[string]string{headerClientID: tenant}, http.StatusBadRequest, rewards.CodeValidation},
		{"no admin", http.MethodGet, "/api/admin/activation/runs", creator("user-1"), http.StatusForbidden, rewards.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, nil, tt.headers)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

// =============================================================================
// CATALOG AND CLAIMS
// =============================================================================

func TestListRewards(t *testing.T) {
	// GIVEN: a Gold creator
	s := newTestServer(t)

	// WHEN: listing the catalog
	rec := s.do(http.MethodGet, "/api/rewards", nil, creator("user-1"))

	// THEN: tier rewards are available and the Platinum preview is locked
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	catalog := decodeBody[CatalogDTO](t, rec)
	assert.Equal(t, "tier_3", catalog.User.CurrentTier)

	gc := findReward(catalog.Rewards, "gc-t3")
	require.NotNil(t, gc)
	assert.Equal(t, "available", gc.Status)
	assert.True(t, gc.CanClaim)

	preview := findReward(catalog.Rewards, "gc-t4")
	require.NotNil(t, preview)
	assert.Equal(t, "locked", preview.Status)
	assert.True(t, preview.IsLocked)
	assert.True(t, preview.IsPreview)
	assert.Equal(t, "Platinum", preview.RequiredTierName)

	assert.Nil(t, findReward(catalog.Rewards, "mission-t3"))
}

func TestListRewards_UnknownCreator(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/rewards", nil, creator("ghost"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, rewards.CodeForbidden, decodeBody[ErrorResponse](t, rec).Error)
}

func TestClaimReward_GiftCard(t *testing.T) {
	s := newTestServer(t)

	// WHEN: claiming a gift card with no body
	rec := s.do(http.MethodPost, "/api/rewards/gc-t3/claim", nil, creator("user-1"))

	// THEN: the redemption is claimed
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[ClaimResponse](t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
	assert.NotEmpty(t, resp.Redemption.ID)
	assert.Equal(t, "claimed", resp.Redemption.Status)
	assert.Equal(t, "gift_card", resp.Redemption.RewardType)
	assert.Equal(t, "tier_3", resp.Redemption.TierAtClaim)
	assert.Nil(t, resp.Boost)
	assert.Nil(t, resp.Gift)

	// AND: the catalog shows it being redeemed
	catalog := decodeBody[CatalogDTO](t, s.do(http.MethodGet, "/api/rewards", nil, creator("user-1")))
	gc := findReward(catalog.Rewards, "gc-t3")
	require.NotNil(t, gc)
	assert.Equal(t, "redeeming", gc.Status)
	assert.False(t, gc.CanClaim)

	// AND: a second claim while the first is active is refused
	rec = s.do(http.MethodPost, "/api/rewards/gc-t3/claim", nil, creator("user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, rewards.CodeAlreadyClaimed, decodeBody[ErrorResponse](t, rec).Error)
}

func TestClaimReward_ReturnsSubState(t *testing.T) {
	s := newTestServer(t)

	// WHEN: claiming a boost
	rec := s.do(http.MethodPost, "/api/rewards/boost-t3/claim",
		map[string]any{"scheduledActivationAt": "2025-06-03T15:00:00Z"}, creator("user-1"))

	// THEN: the boost sub-state comes back with the redemption
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[ClaimResponse](t, rec)
	require.NotNil(t, resp.Boost)
	assert.Nil(t, resp.Gift)
	assert.Equal(t, resp.Redemption.ID, resp.Boost.RedemptionID)
	assert.Equal(t, "scheduled", resp.Boost.Status)
	assert.Equal(t, "2025-06-03", resp.Boost.ScheduledActivationDate)
	assert.Equal(t, 30, resp.Boost.DurationDays)
	assert.True(t, decimal.NewFromInt(5).Equal(resp.Boost.BoostRate))
	assert.Empty(t, resp.Boost.PaymentAccount)

	// WHEN: claiming a physical gift
	rec = s.do(http.MethodPost, "/api/rewards/gift-t3/claim",
		map[string]any{"sizeValue": "L", "shippingInfo": shipping()}, creator("user-1"))

	// THEN: the gift sub-state comes back instead
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp = decodeBody[ClaimResponse](t, rec)
	require.NotNil(t, resp.Gift)
	assert.Nil(t, resp.Boost)
	assert.Equal(t, resp.Redemption.ID, resp.Gift.RedemptionID)
	assert.Equal(t, "L", resp.Gift.SizeValue)
	assert.Equal(t, "Austin", resp.Gift.Shipping.City)
	assert.Nil(t, resp.Gift.ShippedAt)
}

func TestClaimReward_RuleErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		reward string
		body   any
		status int
		code   string
	}{
		{"higher tier", "gc-t4", nil, http.StatusForbidden, rewards.CodeTierIneligible},
		{"unknown reward", "nope", nil, http.StatusForbidden, rewards.CodeForbidden},
		{"other tenant's reward", "globex-only", nil, http.StatusForbidden, rewards.CodeForbidden},
		{"mission reward", "mission-t3", nil, http.StatusBadRequest, rewards.CodeRewardNotClaimable},
		{"boost without schedule", "boost-t3", nil, http.StatusBadRequest, rewards.CodeSchedulingRequired},
		{"boost in the past", "boost-t3", `{"scheduledActivationAt":"2025-06-01T15:00:00Z"}`, http.StatusBadRequest, rewards.CodeInvalidSchedule},
		{"discount on a weekend", "disc-t3", `{"scheduledActivationAt":"2025-06-07T15:00:00Z"}`, http.StatusBadRequest, rewards.CodeInvalidSchedule},
		{"discount outside hours", "disc-t3", `{"scheduledActivationAt":"2025-06-03T12:00:00Z"}`, http.StatusBadRequest, rewards.CodeInvalidTimeSlot},
		{"gift without shipping", "gift-t3", `{"sizeValue":"M"}`, http.StatusBadRequest, rewards.CodeShippingInfoRequired},
		{"unknown field", "gc-t3", `{"colour":"red"}`, http.StatusBadRequest, rewards.CodeValidation},
		{"malformed body", "gc-t3", `{"sizeValue":`, http.StatusBadRequest, rewards.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/rewards/"+tt.reward+"/claim", tt.body, creator("user-1"))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestClaimReward_SizeErrorCarriesOptions(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/rewards/gift-t3/claim", map[string]any{
		"sizeValue":    "XL",
		"shippingInfo": shipping(),
	}, creator("user-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, rewards.CodeInvalidSizeSelection, resp.Error)
	assert.NotEmpty(t, resp.Details)
}

func TestClaimReward_RateLimited(t *testing.T) {
	s := newTestServer(t)
	s.limiter = NewRateLimiter(1, 1)
	s.limiter.now = func() time.Time { return monday }
	s.router = NewRouter(s.handler, RouterOptions{ClaimLimiter: s.limiter})

	// GIVEN: one claim used the whole burst
	s.claim("user-1", "gc-t3", nil)

	// WHEN: the creator claims again in the same instant
	rec := s.do(http.MethodPost, "/api/rewards/gift-t3/claim", nil, creator("user-1"))

	// THEN: the request never reaches the service
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeBody[ErrorResponse](t, rec).Error)

	// AND: another creator has their own bucket
	s.claim("user-2", "gc-t3", nil)
}

// =============================================================================
// COMMISSION BOOST
// =============================================================================

func TestBoostLifecycle(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a boost requested for Tuesday, which starts at 18:00 Eastern
	red := s.claim("user-1", "boost-t3", map[string]any{"scheduledActivationAt": "2025-06-03T15:00:00Z"})
	assert.Equal(t, "scheduled", red.RedemptionType)
	assert.Equal(t, "2025-06-03", red.ScheduledActivationDate)
	id := red.ID

	// Payment info is not wanted yet.
	rec := s.do(http.MethodPost, "/api/redemptions/"+id+"/payment-info", PaymentInfoRequest{
		PaymentMethod: "paypal", PaymentAccount: "ada@example.com", PaymentAccountConfirm: "ada@example.com",
	}, creator("user-1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, rewards.CodePaymentInfoNotRequired, decodeBody[ErrorResponse](t, rec).Error)

	// WHEN: the runner fires Tuesday evening
	s.clock.Set(time.Date(2025, 6, 3, 23, 0, 0, 0, time.UTC))
	report := s.runActivation()
	assert.Len(t, report["boostsActivated"], 1)

	// WHEN: sales grow and the window closes
	s.setSales("user-1", "8000")
	s.clock.Set(time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC))
	report = s.runActivation()
	assert.Len(t, report["boostsExpired"], 1)
	assert.Len(t, report["boostsPendingInfo"], 1)

	// THEN: the catalog asks for payment info
	catalog := decodeBody[CatalogDTO](t, s.do(http.MethodGet, "/api/rewards", nil, creator("user-1")))
	assert.Equal(t, "pending_info", findReward(catalog.Rewards, "boost-t3").Status)

	// Another creator cannot submit it.
	rec = s.do(http.MethodPost, "/api/redemptions/"+id+"/payment-info", PaymentInfoRequest{
		PaymentMethod: "paypal", PaymentAccount: "eve@example.com", PaymentAccountConfirm: "eve@example.com",
	}, creator("user-2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A mismatched confirmation is rejected.
	rec = s.do(http.MethodPost, "/api/redemptions/"+id+"/payment-info", PaymentInfoRequest{
		PaymentMethod: "paypal", PaymentAccount: "ada@example.com", PaymentAccountConfirm: "ada@example.org",
	}, creator("user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, rewards.CodePaymentAccountMismatch, decodeBody[ErrorResponse](t, rec).Error)

	// WHEN: the creator submits a payout destination
	rec = s.do(http.MethodPost, "/api/redemptions/"+id+"/payment-info", PaymentInfoRequest{
		PaymentMethod: "paypal", PaymentAccount: "ada@example.com", PaymentAccountConfirm: "ada@example.com",
	}, creator("user-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	boost := decodeBody[BoostDTO](t, rec)
	assert.Equal(t, "pending_payout", boost.Status)
	assert.NotEqual(t, "ada@example.com", boost.PaymentAccount)

	// THEN: the admin view opens the account and shows the payout
	rec = s.do(http.MethodGet, "/api/admin/boosts/"+id, nil, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	details := decodeBody[BoostDetailsDTO](t, rec)
	assert.Equal(t, "pending_payout", details.Boost.Status)
	assert.Equal(t, "ada@example.com", details.Boost.PaymentAccount)
	assert.True(t, details.HistoryValid)
	assert.True(t, decimal.NewFromInt(3000).Equal(details.Payout.SalesDelta))
	assert.True(t, decimal.NewFromInt(150).Equal(details.Payout.FinalPayoutAmount))

	// WHEN: an admin overrides the payout
	rec = s.do(http.MethodPost, "/api/admin/boosts/"+id+"/adjustment", map[string]any{"amount": "750"}, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	boost = decodeBody[BoostDTO](t, rec)
	require.NotNil(t, boost.FinalPayoutAmount)
	assert.True(t, decimal.NewFromInt(750).Equal(*boost.FinalPayoutAmount))
	require.NotNil(t, boost.CalculatedCommission)
	assert.True(t, decimal.NewFromInt(150).Equal(*boost.CalculatedCommission))

	// WHEN: the payout is sent
	rec = s.do(http.MethodPost, "/api/admin/boosts/"+id+"/paid", nil, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	boost = decodeBody[BoostDTO](t, rec)
	assert.Equal(t, "paid", boost.Status)
	assert.Equal(t, "admin-1", boost.PayoutSentBy)

	// THEN: it is history and cannot be paid twice
	history := decodeBody[[]RedemptionDTO](t, s.do(http.MethodGet, "/api/rewards/history", nil, creator("user-1")))
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ID)

	rec = s.do(http.MethodPost, "/api/admin/boosts/"+id+"/paid", nil, admin())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/admin/boosts/"+id+"/adjustment", map[string]any{"amount": "10"}, admin())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdjustCommission_Negative(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/admin/boosts/anything/adjustment", map[string]any{"amount": "-1"}, admin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, rewards.CodeValidation, decodeBody[ErrorResponse](t, rec).Error)
}

func TestGetBoost_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/admin/boosts/missing", nil, admin())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, rewards.CodeNotFound, decodeBody[ErrorResponse](t, rec).Error)
}

// =============================================================================
// ADMIN FLOWS
// =============================================================================

func TestRedemptionAdminFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.claim("user-1", "gc-t3", nil).ID

	// Concluding before fulfilment is not allowed.
	rec := s.do(http.MethodPost, "/api/admin/redemptions/"+id+"/conclude", nil, admin())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/redemptions/"+id+"/fulfill", FulfillRequest{Notes: "code emailed"}, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	red := decodeBody[RedemptionDTO](t, rec)
	assert.Equal(t, "fulfilled", red.Status)
	assert.Equal(t, "code emailed", red.FulfillmentNotes)
	assert.NotNil(t, red.FulfilledAt)

	rec = s.do(http.MethodPost, "/api/admin/redemptions/"+id+"/conclude", nil, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "concluded", decodeBody[RedemptionDTO](t, rec).Status)

	history := decodeBody[[]RedemptionDTO](t, s.do(http.MethodGet, "/api/rewards/history", nil, creator("user-1")))
	require.Len(t, history, 1)

	// Other tenants do not see it.
	rec = s.do(http.MethodPost, "/api/admin/redemptions/"+id+"/reject", RejectRequest{Reason: "x"},
		map[string]string{headerClientID: "globex", headerAdminID: "admin-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectRedemption(t *testing.T) {
	s := newTestServer(t)
	id := s.claim("user-1", "gc-t3", nil).ID

	rec := s.do(http.MethodPost, "/api/admin/redemptions/"+id+"/reject", RejectRequest{Reason: "fraud check"}, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	red := decodeBody[RedemptionDTO](t, rec)
	assert.Equal(t, "rejected", red.Status)
	assert.Equal(t, "fraud check", red.RejectionReason)

	rec = s.do(http.MethodPost, "/api/admin/redemptions/"+id+"/fulfill", nil, admin())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeBody[ErrorResponse](t, rec).Error)
}

func TestGiftFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.claim("user-1", "gift-t3", map[string]any{"sizeValue": "M", "shippingInfo": shipping()}).ID

	// Delivery before shipment is refused.
	rec := s.do(http.MethodPost, "/api/admin/gifts/"+id+"/delivered", nil, admin())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/gifts/"+id+"/shipped", ShipmentRequest{}, admin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/gifts/"+id+"/shipped", ShipmentRequest{TrackingNumber: "1Z999", Carrier: "UPS"}, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	gift := decodeBody[GiftDTO](t, rec)
	assert.Equal(t, "M", gift.SizeValue)
	assert.Equal(t, "1Z999", gift.TrackingNumber)
	assert.Equal(t, "Austin", gift.Shipping.City)
	assert.NotNil(t, gift.ShippedAt)

	catalog := decodeBody[CatalogDTO](t, s.do(http.MethodGet, "/api/rewards", nil, creator("user-1")))
	assert.Equal(t, "sending", findReward(catalog.Rewards, "gift-t3").Status)

	rec = s.do(http.MethodPost, "/api/admin/gifts/"+id+"/delivered", nil, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, decodeBody[GiftDTO](t, rec).DeliveredAt)

	rec = s.do(http.MethodPost, "/api/admin/gifts/"+id+"/shipped", ShipmentRequest{TrackingNumber: "again"}, admin())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTierChange_InvalidatesClaimable(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a claimable tier reward and a claimable mission reward
	rec := s.do(http.MethodPost, "/api/admin/users/user-1/claimable", GrantRequest{RewardID: "gc-t3"}, admin())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "claimable", decodeBody[RedemptionDTO](t, rec).Status)

	rec = s.do(http.MethodPost, "/api/admin/users/user-1/claimable", GrantRequest{RewardID: "mission-t3", MissionProgressID: "mp-1"}, admin())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "mp-1", decodeBody[RedemptionDTO](t, rec).MissionProgressID)

	// WHEN: the creator is demoted
	rec = s.do(http.MethodPost, "/api/admin/users/user-1/tier-change", TierChangeRequest{FromTier: "tier_3", ToTier: "tier_2"}, admin())

	// THEN: only the tier reward is invalidated
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[TierChangeDTO](t, rec)
	assert.Equal(t, 1, res.Invalidated)
	assert.Equal(t, "tier_change_tier_3_to_tier_2", res.DeletedReason)

	catalog := decodeBody[CatalogDTO](t, s.do(http.MethodGet, "/api/rewards", nil, creator("user-1")))
	assert.Equal(t, "tier_2", catalog.User.CurrentTier)
}

func TestTierChange_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/admin/users/user-1/tier-change", TierChangeRequest{ToTier: "tier_2"}, admin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/users/ghost/tier-change", TierChangeRequest{FromTier: "tier_3", ToTier: "tier_2"}, admin())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// ACTIVATION RUNS
// =============================================================================

func TestActivationRuns(t *testing.T) {
	s := newTestServer(t)

	report := s.runActivation()
	assert.NotEmpty(t, report["runId"])
	assert.Equal(t, tenant, report["clientId"])

	s.clock.Advance(time.Hour)
	s.runActivation()

	rec := s.do(http.MethodGet, "/api/admin/activation/runs?limit=1", nil, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	runs := decodeBody[[]ActivationRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "manual", runs[0].Trigger)
	assert.Equal(t, "completed", runs[0].Status)
	assert.True(t, runs[0].StartedAt.Equal(monday.Add(time.Hour)))

	runs = decodeBody[[]ActivationRunDTO](t, s.do(http.MethodGet, "/api/admin/activation/runs", nil, admin()))
	assert.Len(t, runs, 2)

	// Runs are per tenant.
	runs = decodeBody[[]ActivationRunDTO](t, s.do(http.MethodGet, "/api/admin/activation/runs", nil,
		map[string]string{headerClientID: "globex", headerAdminID: "admin-1"}))
	assert.Empty(t, runs)

	rec = s.do(http.MethodGet, "/api/admin/activation/runs?limit=abc", nil, admin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.handler.Health = func() error { return errors.New("database is locked") }
	rec = s.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.claim("user-1", "gc-t3", nil)
	s.do(http.MethodPost, "/api/rewards/gc-t4/claim", nil, creator("user-1"))

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `redemption_engine_claims_total{result="success",type="gift_card"} 1`)
	assert.Contains(t, body, `route="/api/rewards/{rewardID}/claim"`)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Close())

	rec := s.do(http.MethodGet, "/api/rewards", nil, creator("user-1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error)
	assert.False(t, strings.Contains(resp.Message, "sql"))
}

func shipping() *rewards.ShippingInfo {
	return &rewards.ShippingInfo{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		AddressLine1: "1 Analytical Way",
		City:         "Austin",
		State:        "TX",
		PostalCode:   "78701",
		Country:      "US",
		Phone:        "+15125550100",
	}
}
