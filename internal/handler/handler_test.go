package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stela-network/stela-backend/internal/auth"
	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/service"
)

// testCallerID is the token subject every authenticated test request
// carries.
const testCallerID = "caller-1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// doAuthed runs the handler behind the real auth middleware with a valid
// bearer token, the same chain the router assembles.
func doAuthed(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-key-for-testing-only")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	token, err := tokens.Generate(testCallerID)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.RequireAuth(tokens)(h).ServeHTTP(rec, req)
	return rec
}

// doAnonymous runs the handler behind OptionalAuth with no token.
func doAnonymous(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-key-for-testing-only")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	auth.OptionalAuth(tokens)(h).ServeHTTP(rec, req)
	return rec
}

// mockReferralService implements ReferralService with function fields.
type mockReferralService struct {
	validateFn func(ctx context.Context, callerID, code string) (*model.UserRecord, error)
	attachFn   func(ctx context.Context, callerID, code string) (*service.AttachResult, error)
	rateFn     func(ctx context.Context, callerID string, isMining bool) (*service.RateUpdate, error)
}

func (m *mockReferralService) ValidateCode(ctx context.Context, callerID, code string) (*model.UserRecord, error) {
	return m.validateFn(ctx, callerID, code)
}

func (m *mockReferralService) Attach(ctx context.Context, callerID, code string) (*service.AttachResult, error) {
	return m.attachFn(ctx, callerID, code)
}

func (m *mockReferralService) UpdateActiveRate(ctx context.Context, callerID string, isMining bool) (*service.RateUpdate, error) {
	return m.rateFn(ctx, callerID, isMining)
}

// mockSessionService implements SessionService with function fields.
type mockSessionService struct {
	startFn func(ctx context.Context, callerID string) (*model.UserRecord, error)
	stopFn  func(ctx context.Context, callerID string) (*model.UserRecord, error)
	touchFn func(ctx context.Context, callerID string) error
}

func (m *mockSessionService) Start(ctx context.Context, callerID string) (*model.UserRecord, error) {
	return m.startFn(ctx, callerID)
}

func (m *mockSessionService) Stop(ctx context.Context, callerID string) (*model.UserRecord, error) {
	return m.stopFn(ctx, callerID)
}

func (m *mockSessionService) TouchActivity(ctx context.Context, callerID string) error {
	return m.touchFn(ctx, callerID)
}

// mockTeamService implements TeamService with a function field.
type mockTeamService struct {
	pingFn func(ctx context.Context, callerID string) (*service.TeamPingResult, error)
}

func (m *mockTeamService) PingInactive(ctx context.Context, callerID string) (*service.TeamPingResult, error) {
	return m.pingFn(ctx, callerID)
}

// mockUserService implements UserService with function fields.
type mockUserService struct {
	registerFn func(ctx context.Context, callerID, email string) (*model.UserRecord, error)
	getFn      func(ctx context.Context, callerID string) (*model.UserRecord, error)
}

func (m *mockUserService) Register(ctx context.Context, callerID, email string) (*model.UserRecord, error) {
	return m.registerFn(ctx, callerID, email)
}

func (m *mockUserService) Get(ctx context.Context, callerID string) (*model.UserRecord, error) {
	return m.getFn(ctx, callerID)
}
