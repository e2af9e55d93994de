package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"cocina-api/internal/domain"
)

// LocalProvider implementa Provider en memoria para desarrollo y pruebas.
// Reproduce los mensajes de error del proveedor hospedado para que el
// mapeo por contenido de la capa superior funcione igual en ambos.
type LocalProvider struct {
	logger *zap.Logger
	tokens *TokenService

	mu          sync.Mutex
	accounts    map[string]*localAccount
	session     *domain.Session
	listeners   map[int]func(Event)
	nextID      int
	resetTokens map[string]string
	autoConfirm bool
}

type localAccount struct {
	Subject      string
	Email        string
	Name         string
	PasswordHash []byte
	Confirmed    bool
}

func NewLocalProvider(logger *zap.Logger, tokens *TokenService, autoConfirm bool) *LocalProvider {
	return &LocalProvider{
		logger:      logger,
		tokens:      tokens,
		accounts:    make(map[string]*localAccount),
		listeners:   make(map[int]func(Event)),
		resetTokens: make(map[string]string),
		autoConfirm: autoConfirm,
	}
}

func (p *LocalProvider) OnAuthStateChange(fn func(Event)) func() {
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

func (p *LocalProvider) emit(evt Event) {
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

func (p *LocalProvider) SignUpWithPassword(_ context.Context, email, password string) (*domain.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, &ProviderError{Status: 400, Message: "Signup requires a valid email and password"}
	}

	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return nil, &ProviderError{Status: 422, Message: "User already registered"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	acc := &localAccount{
		Subject:      uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Confirmed:    p.autoConfirm,
	}
	p.accounts[email] = acc
	p.mu.Unlock()

	if !acc.Confirmed {
		// Imitando al proveedor hospedado: sin confirmación no hay sesión.
		return nil, nil
	}
	return p.openSession(acc)
}

func (p *LocalProvider) SignInWithPassword(_ context.Context, email, password string) (*domain.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	p.mu.Lock()
	acc, ok := p.accounts[email]
	p.mu.Unlock()
	if !ok || len(acc.PasswordHash) == 0 {
		return nil, &ProviderError{Status: 400, Message: "Invalid login credentials"}
	}
	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)); err != nil {
		return nil, &ProviderError{Status: 400, Message: "Invalid login credentials"}
	}
	if !acc.Confirmed {
		return nil, &ProviderError{Status: 400, Message: "Email not confirmed"}
	}
	return p.openSession(acc)
}

func (p *LocalProvider) SignInWithOAuth(_ context.Context, ident OAuthIdentity) (*domain.Session, error) {
	email := strings.ToLower(strings.TrimSpace(ident.Email))
	if ident.Subject == "" || email == "" {
		return nil, &ProviderError{Status: 400, Message: "OAuth identity is missing subject or email"}
	}

	p.mu.Lock()
	acc, ok := p.accounts[email]
	if !ok {
		acc = &localAccount{Email: email}
		p.accounts[email] = acc
	}
	// El proveedor externo es la autoridad sobre el sujeto y el nombre.
	acc.Subject = ident.Subject
	if acc.Name == "" {
		acc.Name = strings.TrimSpace(ident.Name)
	}
	acc.Confirmed = true
	p.mu.Unlock()

	return p.openSession(acc)
}

func (p *LocalProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	p.emit(Event{Kind: EventSignedOut})
	return nil
}

func (p *LocalProvider) GetCurrentSession(_ context.Context) (*domain.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, nil
	}
	copied := *p.session
	return &copied, nil
}

func (p *LocalProvider) RequestPasswordReset(_ context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	p.mu.Lock()
	_, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		// No se revela si la cuenta existe.
		return nil
	}
	token := uuid.NewString()
	p.resetTokens[token] = email
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Info("password reset requested", zap.String("email", email), zap.String("token", token))
	}
	return nil
}

func (p *LocalProvider) UpdatePassword(_ context.Context, newPassword string) error {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return &ProviderError{Status: 401, Message: "Auth session missing"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[sess.Email]
	if !ok {
		return &ProviderError{Status: 404, Message: "User not found"}
	}
	acc.PasswordHash = hash
	acc.Confirmed = true
	return nil
}

func (p *LocalProvider) SetSessionFromTokens(_ context.Context, accessToken, refreshToken string) (*domain.Session, error) {
	claims, err := p.tokens.ParseAccessToken(accessToken)
	if err != nil {
		return nil, &ProviderError{Status: 401, Message: "Invalid Refresh Token"}
	}
	sess := &domain.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExternalID:   claims.Subject,
		Email:        claims.Email,
		Name:         claims.Name,
		ExpiresAt:    claims.ExpiresAt.Time,
	}
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()
	p.emit(Event{Kind: EventSignedIn, Session: sess})
	return sess, nil
}

func (p *LocalProvider) openSession(acc *localAccount) (*domain.Session, error) {
	pair, err := p.tokens.GeneratePair(acc.Subject, acc.Email, acc.Name)
	if err != nil {
		return nil, err
	}
	sess := &domain.Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExternalID:   acc.Subject,
		Email:        acc.Email,
		Name:         acc.Name,
		ExpiresAt:    time.Now().UTC().Add(p.tokens.AccessTTL()),
	}
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()
	p.emit(Event{Kind: EventSignedIn, Session: sess})
	return sess, nil
}

var _ Provider = (*LocalProvider)(nil)
