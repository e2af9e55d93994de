package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleOAuth resuelve el tramo de redirección OAuth con Google: construye
// la URL de login y cambia el código de autorización por una identidad
// verificada mediante el ID token.
type GoogleOAuth struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
}

func NewGoogleOAuth(ctx context.Context, clientID, clientSecret, redirectURL string) (*GoogleOAuth, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google oauth requires client id and secret")
	}

	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("discover google oidc: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	return &GoogleOAuth{oauthConfig: cfg, verifier: verifier}, nil
}

// LoginURL genera la URL de autorización para el state dado.
func (g *GoogleOAuth) LoginURL(state string) string {
	return g.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange cambia el código de autorización por la identidad del usuario,
// verificando la firma y audiencia del ID token.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (OAuthIdentity, error) {
	token, err := g.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return OAuthIdentity{}, fmt.Errorf("exchange oauth code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return OAuthIdentity{}, fmt.Errorf("token response missing id_token")
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return OAuthIdentity{}, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return OAuthIdentity{}, fmt.Errorf("parse id token claims: %w", err)
	}
	if claims.Sub == "" {
		return OAuthIdentity{}, fmt.Errorf("id token missing subject")
	}

	return OAuthIdentity{
		Provider: "google",
		Subject:  claims.Sub,
		Email:    claims.Email,
		Name:     claims.Name,
	}, nil
}
