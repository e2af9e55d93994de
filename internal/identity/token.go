package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenService emite y valida los tokens JWT del proveedor local.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	store      RefreshTokenStore
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Claims struct {
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, store RefreshTokenStore) *TokenService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	if store == nil {
		store = NewMemoryRefreshTokenStore()
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     "cocina-api",
		store:      store,
	}
}

// AccessTTL expone la vigencia de los access tokens emitidos.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// GeneratePair emite un par access/refresh para la identidad externa dada.
func (s *TokenService) GeneratePair(subject, email, name string) (TokenPair, error) {
	if len(s.secret) == 0 {
		return TokenPair{}, ErrTokenInvalid
	}
	now := time.Now().UTC()
	access, err := s.sign(subject, email, name, now, s.accessTTL, "access", "")
	if err != nil {
		return TokenPair{}, err
	}
	tokenID := uuid.NewString()
	refresh, err := s.sign(subject, email, name, now, s.refreshTTL, "refresh", tokenID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.Store(tokenID, subject, s.refreshTTL); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// RefreshPair rota un refresh token válido por un par nuevo. El token
// anterior queda revocado.
func (s *TokenService) RefreshPair(refreshToken string) (TokenPair, error) {
	claims, err := s.parseOfType(refreshToken, "refresh")
	if err != nil {
		return TokenPair{}, err
	}
	if claims.ID == "" {
		return TokenPair{}, ErrTokenInvalid
	}
	ok, err := s.store.Exists(claims.ID)
	if err != nil || !ok {
		return TokenPair{}, ErrTokenInvalid
	}
	if err := s.store.Revoke(claims.ID); err != nil {
		return TokenPair{}, ErrTokenInvalid
	}
	return s.GeneratePair(claims.Subject, claims.Email, claims.Name)
}

// RevokeRefresh invalida un refresh token sin emitir uno nuevo.
func (s *TokenService) RevokeRefresh(refreshToken string) error {
	claims, err := s.parseOfType(refreshToken, "refresh")
	if err != nil {
		return err
	}
	if claims.ID == "" {
		return ErrTokenInvalid
	}
	return s.store.Revoke(claims.ID)
}

// ParseAccessToken valida un access token y devuelve sus claims.
func (s *TokenService) ParseAccessToken(accessToken string) (Claims, error) {
	return s.parseOfType(accessToken, "access")
}

func (s *TokenService) sign(subject, email, name string, now time.Time, ttl time.Duration, tokenType, tokenID string) (string, error) {
	claims := Claims{
		Email:     email,
		Name:      name,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *TokenService) parseOfType(tokenString, tokenType string) (Claims, error) {
	if len(s.secret) == 0 || strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrTokenInvalid
	}
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if claims.TokenType != tokenType {
		return Claims{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Issuer != s.issuer {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
