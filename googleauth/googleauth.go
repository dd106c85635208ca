// Package googleauth runs the Google sign-in leg of authentication. It
// obtains and verifies a Google ID token, which the backend then exchanges
// for a QuantaChat session token.
package googleauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleIssuer is Google's OIDC issuer URL.
const GoogleIssuer = "https://accounts.google.com"

// issuerURL is GoogleIssuer in production; tests point it at a local fake.
var issuerURL = GoogleIssuer

// SetIssuerForTesting overrides the discovery issuer and returns a function
// that restores it.
func SetIssuerForTesting(url string) (restore func()) {
	previous := issuerURL
	issuerURL = url
	return func() { issuerURL = previous }
}

// Flow holds the OIDC provider and OAuth2 configuration for one sign-in
// round trip.
type Flow struct {
	provider *oidc.Provider
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// AuthState is the per-attempt state the caller must hold between
// AuthCodeURL and Exchange: the CSRF state, the replay nonce and the PKCE
// verifier.
type AuthState struct {
	State        string
	Nonce        string
	CodeVerifier string
}

// IDClaims are the identity claims extracted from a verified Google ID
// token.
type IDClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Nonce   string `json:"nonce"`
}

// NewFlow discovers Google's OIDC configuration and prepares a sign-in
// flow for the given client.
func NewFlow(ctx context.Context, clientID, clientSecret, redirectURL string) (*Flow, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &Flow{
		provider: provider,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// AuthCodeURL builds the Google consent URL and the state the caller must
// keep for the matching Exchange.
func (f *Flow) AuthCodeURL() (string, *AuthState) {
	state := &AuthState{
		State:        generateRandomString(32),
		Nonce:        generateRandomString(32),
		CodeVerifier: generateRandomString(32),
	}

	url := f.config.AuthCodeURL(
		state.State,
		oidc.Nonce(state.Nonce),
		oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(state.CodeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return url, state
}

// Exchange trades the authorization code for tokens, verifies the ID token
// signature and nonce, and returns the raw ID token ready for the backend
// together with its claims.
func (f *Flow) Exchange(ctx context.Context, code string, state *AuthState) (string, *IDClaims, error) {
	oauth2Token, err := f.config.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", state.CodeVerifier),
	)
	if err != nil {
		return "", nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return "", nil, fmt.Errorf("no ID token in response")
	}

	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", nil, fmt.Errorf("ID token verification failed: %w", err)
	}

	var claims IDClaims
	if err := idToken.Claims(&claims); err != nil {
		return "", nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	if claims.Nonce != state.Nonce {
		return "", nil, fmt.Errorf("invalid nonce")
	}

	return rawIDToken, &claims, nil
}

// generateRandomString creates a random base64url string.
func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// generateCodeChallenge creates a PKCE code challenge from a verifier.
func generateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
