package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cocina-api/internal/domain"
	"cocina-api/internal/identity"
	"cocina-api/internal/repository"
	"cocina-api/internal/service"
)

type mockProfileRepo struct {
	mu      sync.Mutex
	byEmail map[string]domain.UserProfile
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{byEmail: make(map[string]domain.UserProfile)}
}

func (m *mockProfileRepo) GetByEmail(_ context.Context, email string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.byEmail[email]
	if !ok {
		return domain.UserProfile{}, pgx.ErrNoRows
	}
	return profile, nil
}

func (m *mockProfileRepo) GetByExternalID(_ context.Context, externalID string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byEmail {
		if p.ExternalID == externalID {
			return p, nil
		}
	}
	return domain.UserProfile{}, pgx.ErrNoRows
}

func (m *mockProfileRepo) Create(_ context.Context, profile domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[profile.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	m.byEmail[profile.Email] = profile
	return nil
}

func (m *mockProfileRepo) LinkExternalID(_ context.Context, id, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, p := range m.byEmail {
		if p.ID == id {
			p.ExternalID = externalID
			m.byEmail[email] = p
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *mockProfileRepo) UpdateContact(_ context.Context, id, name, phone string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, p := range m.byEmail {
		if p.ID == id {
			p.Name = name
			p.Phone = phone
			m.byEmail[email] = p
			return p, nil
		}
	}
	return domain.UserProfile{}, pgx.ErrNoRows
}

type authTestEnv struct {
	router *gin.Engine
	tokens *identity.TokenService
	repo   *mockProfileRepo
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	tokens := newTestTokenService()
	provider := identity.NewLocalProvider(logger, tokens, true)
	repo := newMockProfileRepo()
	reconciler := service.NewProfileReconciler(logger, repo, nil)
	orchestrator := service.NewSessionOrchestrator(logger, provider, reconciler, repo, nil, nil, nil)
	if err := orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("start orchestrator: %v", err)
	}

	authH := NewAuthHandler(logger, orchestrator, tokens, nil)
	profileH := NewProfileHandler(logger, orchestrator)
	router := NewRouter(logger, tokens, nil, authH, profileH, NewServiceHandler(logger, service.NewBookingService(logger, newMockServiceRepo())))
	return &authTestEnv{router: router, tokens: tokens, repo: repo}
}

type mockServiceRepo struct {
	mu   sync.Mutex
	byID map[string]domain.ServiceRequest
}

func newMockServiceRepo() *mockServiceRepo {
	return &mockServiceRepo{byID: make(map[string]domain.ServiceRequest)}
}

func (m *mockServiceRepo) Create(_ context.Context, req domain.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[req.ID] = req
	return nil
}

func (m *mockServiceRepo) GetByID(_ context.Context, id string) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byID[id]
	if !ok {
		return domain.ServiceRequest{}, pgx.ErrNoRows
	}
	return req, nil
}

func (m *mockServiceRepo) ListByUserEmail(_ context.Context, email string) ([]domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ServiceRequest
	for _, req := range m.byID {
		if req.UserEmail == email {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *mockServiceRepo) Update(_ context.Context, req domain.ServiceRequest) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[req.ID]; !ok {
		return domain.ServiceRequest{}, pgx.ErrNoRows
	}
	m.byID[req.ID] = req
	return req, nil
}

func (m *mockServiceRepo) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	req.Active = false
	m.byID[id] = req
	return nil
}

func (env *authTestEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestSignUpLoginAndSessionFlow(t *testing.T) {
	env := newAuthTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "user@example.com", "password": "secret1"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var signupBody struct {
		State        string `json:"state"`
		IsRegistered bool   `json:"is_registered"`
		Session      struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &signupBody); err != nil {
		t.Fatalf("decode signup body: %v", err)
	}
	if signupBody.State != "authenticated_registered" || !signupBody.IsRegistered {
		t.Fatalf("expected registered snapshot, got %+v", signupBody)
	}
	if signupBody.Session.AccessToken == "" {
		t.Fatalf("expected access token in response")
	}

	if _, ok := env.repo.byEmail["user@example.com"]; !ok {
		t.Fatalf("expected profile persisted during signup")
	}

	rec = env.do(t, http.MethodGet, "/auth/session", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/auth/logout", nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/auth/login", gin.H{"email": "user@example.com", "password": "secret1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newAuthTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/login", gin.H{"email": "ghost@example.com", "password": "secret1"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSignUpRejectsWeakPassword(t *testing.T) {
	env := newAuthTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "user@example.com", "password": "short"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSignUpRejectsTakenEmail(t *testing.T) {
	env := newAuthTestEnv(t)
	env.repo.byEmail["user@example.com"] = domain.UserProfile{ID: "p1", Email: "user@example.com"}

	rec := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "user@example.com", "password": "secret1"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProfileEndpointsRequireToken(t *testing.T) {
	env := newAuthTestEnv(t)

	rec := env.do(t, http.MethodGet, "/profile", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProfileGetAndUpdateFlow(t *testing.T) {
	env := newAuthTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "user@example.com", "password": "secret1"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + body.Session.AccessToken}

	rec = env.do(t, http.MethodGet, "/profile", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/profile", gin.H{"name": "Ana López", "phone": "555-123-4567"}, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored := env.repo.byEmail["user@example.com"]
	if stored.Name != "Ana López" || stored.Phone != "555-123-4567" {
		t.Fatalf("expected profile updated, got %+v", stored)
	}
}

func TestServiceRequestFlow(t *testing.T) {
	env := newAuthTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "user@example.com", "password": "secret1"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + body.Session.AccessToken}

	rec = env.do(t, http.MethodPost, "/services", gin.H{
		"service":    "chef a domicilio",
		"occasion":   "aniversario",
		"persons":    "4",
		"event_date": "2026-10-15",
	}, auth)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Request struct {
			ID string `json:"id"`
		} `json:"request"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Request.ID == "" {
		t.Fatalf("expected request id")
	}

	rec = env.do(t, http.MethodGet, "/services", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/services/"+created.Request.ID, nil, auth)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBeginRecoveryDoesNotCreateProfile(t *testing.T) {
	env := newAuthTestEnv(t)

	// Cuenta y perfil previos, como en un reset real.
	rec := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "user@example.com", "password": "secret1"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/auth/logout", nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout failed: %d", rec.Code)
	}
	profilesBefore := len(env.repo.byEmail)

	pair, err := env.tokens.GeneratePair("ext-1", "user@example.com", "Ana")
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/auth/recovery", gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		IsRecoveryMode bool `json:"is_recovery_mode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.IsRecoveryMode {
		t.Fatalf("expected recovery mode in snapshot")
	}
	if len(env.repo.byEmail) != profilesBefore {
		t.Fatalf("expected no new profile during recovery, got %v", env.repo.byEmail)
	}

	rec = env.do(t, http.MethodPost, "/auth/reset/confirm", gin.H{"password": "nuevo123"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// El nuevo password funciona y el anterior no.
	if rec := env.do(t, http.MethodPost, "/auth/login", gin.H{"email": "user@example.com", "password": "secret1"}, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected old password rejected, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/auth/login", gin.H{"email": "user@example.com", "password": "nuevo123"}, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected new password accepted, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCancelRecoveryExitsRecoveryMode(t *testing.T) {
	env := newAuthTestEnv(t)

	pair, err := env.tokens.GeneratePair("ext-1", "user@example.com", "Ana")
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}
	rec := env.do(t, http.MethodPost, "/auth/recovery", gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recovery failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/auth/recovery/cancel", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		IsRecoveryMode bool `json:"is_recovery_mode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.IsRecoveryMode {
		t.Fatalf("expected recovery mode cleared after cancel")
	}
}

func TestRefreshEndpointRotatesTokens(t *testing.T) {
	env := newAuthTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/signup", gin.H{"email": "user@example.com", "password": "secret1"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d", rec.Code)
	}
	var body struct {
		Session struct {
			RefreshToken string `json:"refresh_token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": body.Session.RefreshToken}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// El refresh anterior quedó revocado.
	rec = env.do(t, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": body.Session.RefreshToken}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused token, got %d", rec.Code)
	}
}
