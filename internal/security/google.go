package security

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/echoheir/echoheir-service/internal/config"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleIssuer = "https://accounts.google.com"

var errMissingIDToken = errors.New("google token response missing id_token")

// GoogleAuthenticator handles the Google sign-in code flow: redirect to the
// consent screen, exchange the callback code, and verify the ID token against
// Google's keys.
type GoogleAuthenticator struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleAuthenticator performs one-time OIDC discovery for Google sign-in.
// Returns nil (sign-in disabled) when no client ID is configured.
func NewGoogleAuthenticator(ctx context.Context, cfg *config.Config) (*GoogleAuthenticator, error) {
	if cfg.GoogleClientID == "" {
		return nil, nil
	}
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("google oidc discovery failed: %w", err)
	}
	log.Info("Google sign-in enabled", "clientID", cfg.GoogleClientID)
	return &GoogleAuthenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.GoogleClientID}),
	}, nil
}

// AuthCodeURL returns the Google consent screen URL for the given state.
func (g *GoogleAuthenticator) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Exchange trades the callback code for tokens and verifies the ID token,
// returning the caller's Google identity.
func (g *GoogleAuthenticator) Exchange(ctx context.Context, code string) (*registrystore.GoogleProfile, error) {
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google code exchange failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errMissingIDToken
	}
	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("google id token verification failed: %w", err)
	}

	var claims struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google id token claims: %w", err)
	}
	if claims.Sub == "" || claims.Email == "" {
		return nil, errors.New("google id token missing identity claims")
	}
	return &registrystore.GoogleProfile{
		GoogleID:  claims.Sub,
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.Picture,
	}, nil
}
