package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stela-network/stela-backend/internal/apperror"
	"github.com/stela-network/stela-backend/internal/auth"
	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/service"
)

func TestHandleValidate_Valid(t *testing.T) {
	svc := &mockReferralService{
		validateFn: func(_ context.Context, callerID, code string) (*model.UserRecord, error) {
			assert.Equal(t, testCallerID, callerID)
			assert.Equal(t, "ABC123", code)
			return &model.UserRecord{ID: "owner", ReferralCode: "ABC123"}, nil
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleValidate, http.MethodPost, "/api/referral/validate", `{"referralCode":"ABC123"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, "Referral code is valid", resp["message"])
}

// Invalid codes are a normal outcome: 200 with valid:false, never 404.
func TestHandleValidate_InvalidCode(t *testing.T) {
	svc := &mockReferralService{
		validateFn: func(context.Context, string, string) (*model.UserRecord, error) {
			return nil, apperror.NotFoundMsg("Invalid referral code")
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleValidate, http.MethodPost, "/api/referral/validate", `{"referralCode":"NOPE99"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["valid"])
	assert.Equal(t, "Invalid referral code", resp["message"])
}

func TestHandleValidate_SelfReferral(t *testing.T) {
	svc := &mockReferralService{
		validateFn: func(context.Context, string, string) (*model.UserRecord, error) {
			return nil, apperror.SelfReferral()
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleValidate, http.MethodPost, "/api/referral/validate", `{"referralCode":"MINE01"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["valid"])
	assert.Equal(t, "Cannot use your own referral code", resp["message"])
}

// Validation is reachable without a token; the handler passes an empty
// caller ID through.
func TestHandleValidate_Anonymous(t *testing.T) {
	svc := &mockReferralService{
		validateFn: func(_ context.Context, callerID, _ string) (*model.UserRecord, error) {
			assert.Empty(t, callerID)
			return &model.UserRecord{ID: "owner", ReferralCode: "ABC123"}, nil
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAnonymous(t, h.HandleValidate, http.MethodPost, "/api/referral/validate", `{"referralCode":"ABC123"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleValidate_BadJSON(t *testing.T) {
	h := NewReferralHandler(&mockReferralService{}, testLogger())

	rec := doAuthed(t, h.HandleValidate, http.MethodPost, "/api/referral/validate", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAttach_Success(t *testing.T) {
	svc := &mockReferralService{
		attachFn: func(_ context.Context, callerID, code string) (*service.AttachResult, error) {
			assert.Equal(t, testCallerID, callerID)
			return &service.AttachResult{BonusApplied: 10, ReferralCode: "ABC123"}, nil
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleAttach, http.MethodPost, "/api/referral/attach", `{"referralCode":"abc123"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(10), resp["bonusApplied"])
	assert.Equal(t, "ABC123", resp["referralCode"])
	assert.Equal(t, "Referral processed successfully", resp["message"])
}

func TestHandleAttach_AlreadyReferred(t *testing.T) {
	svc := &mockReferralService{
		attachFn: func(context.Context, string, string) (*service.AttachResult, error) {
			return nil, apperror.AlreadyReferred("OLD001")
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleAttach, http.MethodPost, "/api/referral/attach", `{"referralCode":"NEW001"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.NotEmpty(t, resp["message"])
}

// Infrastructure failures are faults, not outcomes: 500 with the
// store_transaction_failure kind.
func TestHandleAttach_StoreFailure(t *testing.T) {
	svc := &mockReferralService{
		attachFn: func(context.Context, string, string) (*service.AttachResult, error) {
			return nil, apperror.StoreTx("attach", assert.AnError)
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleAttach, http.MethodPost, "/api/referral/attach", `{"referralCode":"ABC123"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "store_transaction_failure", resp.Error)
}

func TestHandleAttach_RequiresAuth(t *testing.T) {
	h := NewReferralHandler(&mockReferralService{}, testLogger())

	tokens, err := auth.NewTokenService("test-secret-key-for-testing-only")
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/referral/attach", strings.NewReader(`{"referralCode":"ABC123"}`))
	rec := httptest.NewRecorder()
	auth.RequireAuth(tokens)(http.HandlerFunc(h.HandleAttach)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRate_WithUpdate(t *testing.T) {
	svc := &mockReferralService{
		rateFn: func(_ context.Context, callerID string, isMining bool) (*service.RateUpdate, error) {
			assert.Equal(t, testCallerID, callerID)
			assert.True(t, isMining)
			return &service.RateUpdate{ActiveReferrals: 2, MiningRate: 0.60}, nil
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleRate, http.MethodPost, "/api/referral/rate", `{"isMining":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(2), resp["newActiveReferrals"])
	assert.Equal(t, 0.60, resp["newMiningRate"])
}

// No referrer means a success no-op without counter fields.
func TestHandleRate_NoReferrer(t *testing.T) {
	svc := &mockReferralService{
		rateFn: func(context.Context, string, bool) (*service.RateUpdate, error) {
			return nil, nil
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleRate, http.MethodPost, "/api/referral/rate", `{"isMining":false}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.NotContains(t, resp, "newActiveReferrals")
	assert.NotContains(t, resp, "newMiningRate")
}

func TestHandleRate_DanglingReferrer(t *testing.T) {
	svc := &mockReferralService{
		rateFn: func(context.Context, string, bool) (*service.RateUpdate, error) {
			return nil, apperror.NotFound("referrer", "GONE01")
		},
	}
	h := NewReferralHandler(svc, testLogger())

	rec := doAuthed(t, h.HandleRate, http.MethodPost, "/api/referral/rate", `{"isMining":true}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
