package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cocina-api/internal/domain"
)

// HTTPProvider implementa Provider contra la API REST del backend de
// autenticación hospedado. Mantiene en memoria la última sesión válida
// (modelo de sesión única) y notifica a los suscriptores en cada cambio.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger

	mu        sync.Mutex
	session   *domain.Session
	listeners map[int]func(Event)
	nextID    int
}

func NewHTTPProvider(baseURL, apiKey string, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
		listeners: make(map[int]func(Event)),
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		UserMetadata struct {
			FullName string `json:"full_name"`
		} `json:"user_metadata"`
	} `json:"user"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (p *HTTPProvider) OnAuthStateChange(fn func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *HTTPProvider) emit(evt Event) {
	p.mu.Lock()
	fns := make([]func(Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

func (p *HTTPProvider) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var resp tokenResponse
	err := p.do(ctx, http.MethodPost, "/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	}, "", &resp)
	if err != nil {
		return nil, err
	}
	return p.adopt(resp), nil
}

func (p *HTTPProvider) SignUpWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var resp tokenResponse
	err := p.do(ctx, http.MethodPost, "/signup", map[string]string{
		"email":    email,
		"password": password,
	}, "", &resp)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		// El backend exige confirmación por email antes de emitir sesión.
		return nil, nil
	}
	return p.adopt(resp), nil
}

func (p *HTTPProvider) SignInWithOAuth(ctx context.Context, ident OAuthIdentity) (*domain.Session, error) {
	var resp tokenResponse
	err := p.do(ctx, http.MethodPost, "/token?grant_type=external", map[string]string{
		"provider": ident.Provider,
		"subject":  ident.Subject,
		"email":    ident.Email,
		"name":     ident.Name,
	}, "", &resp)
	if err != nil {
		return nil, err
	}
	return p.adopt(resp), nil
}

func (p *HTTPProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	sess := p.session
	p.session = nil
	p.mu.Unlock()

	if sess != nil {
		if err := p.do(ctx, http.MethodPost, "/logout", struct{}{}, sess.AccessToken, nil); err != nil {
			// La sesión local ya se descartó; el backend expira la suya sola.
			if p.logger != nil {
				p.logger.Warn("remote logout failed", zap.Error(err))
			}
		}
	}
	p.emit(Event{Kind: EventSignedOut})
	return nil
}

func (p *HTTPProvider) GetCurrentSession(_ context.Context) (*domain.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, nil
	}
	copied := *p.session
	return &copied, nil
}

func (p *HTTPProvider) RequestPasswordReset(ctx context.Context, email string) error {
	return p.do(ctx, http.MethodPost, "/recover", map[string]string{"email": email}, "", nil)
}

func (p *HTTPProvider) UpdatePassword(ctx context.Context, newPassword string) error {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return &ProviderError{Status: 401, Message: "Auth session missing"}
	}
	return p.do(ctx, http.MethodPut, "/user", map[string]string{"password": newPassword}, sess.AccessToken, nil)
}

func (p *HTTPProvider) SetSessionFromTokens(ctx context.Context, accessToken, refreshToken string) (*domain.Session, error) {
	var user struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		UserMetadata struct {
			FullName string `json:"full_name"`
		} `json:"user_metadata"`
	}
	if err := p.do(ctx, http.MethodGet, "/user", nil, accessToken, &user); err != nil {
		return nil, err
	}
	sess := &domain.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExternalID:   user.ID,
		Email:        user.Email,
		Name:         user.UserMetadata.FullName,
	}
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()
	p.emit(Event{Kind: EventSignedIn, Session: sess})
	return sess, nil
}

func (p *HTTPProvider) adopt(resp tokenResponse) *domain.Session {
	sess := &domain.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExternalID:   resp.User.ID,
		Email:        resp.User.Email,
		Name:         resp.User.UserMetadata.FullName,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()
	p.emit(Event{Kind: EventSignedIn, Session: sess})
	return sess
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.apiKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope errorResponse
		_ = json.Unmarshal(raw, &envelope)
		msg := envelope.text()
		if msg == "" {
			msg = fmt.Sprintf("auth backend error: status=%d", resp.StatusCode)
		}
		if p.logger != nil {
			p.logger.Warn("auth backend error",
				zap.Int("status", resp.StatusCode),
				zap.String("path", path),
			)
		}
		return &ProviderError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

var _ Provider = (*HTTPProvider)(nil)
