package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// ClientID is the public OAuth2 client identifier the Codex CLI uses.
// This is a public client (no client secret) using PKCE for security.
const ClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

// Endpoint defines the OAuth2 endpoints for provider authentication.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://auth.openai.com/oauth/authorize",
	TokenURL:  "https://auth.openai.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// NewOAuthRefresher builds a RefreshFunc backed by the provider's token
// endpoint. The endpoint expects JSON rather than the form encoding the
// oauth2 package emits, so requests go through a converting transport.
// A nil base transport means http.DefaultTransport.
func NewOAuthRefresher(endpoint oauth2.Endpoint, base http.RoundTripper) RefreshFunc {
	if base == nil {
		base = http.DefaultTransport
	}

	oauth2Config := &oauth2.Config{
		ClientID:     ClientID,
		ClientSecret: "", // Empty for PKCE flow (public client)
		Endpoint:     endpoint,
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &tokenRefreshTransport{base: base},
	}

	return func(ctx context.Context, refreshToken string) (*RotatedTokens, error) {
		// oauth2 package injects custom HTTP clients via context (oauth2.HTTPClient key)
		oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)

		token, err := oauth2Config.TokenSource(oauthCtx, &oauth2.Token{
			RefreshToken: refreshToken,
		}).Token()
		if err != nil {
			return nil, fmt.Errorf("refreshing access token: %w", err)
		}

		rotated := &RotatedTokens{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
		}
		if idToken, ok := token.Extra("id_token").(string); ok {
			rotated.IDToken = idToken
		}
		if !token.Expiry.IsZero() {
			rotated.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
		}
		return rotated, nil
	}
}

// tokenRefreshTransport converts oauth2's form-encoded token refresh requests
// to the JSON format the provider's token endpoint requires.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type tokenRefreshTransport struct {
	base http.RoundTripper
}

// Compile-time check that tokenRefreshTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRefreshTransport)(nil)

// RoundTrip intercepts token refresh requests and converts them from form-encoded to JSON.
func (t *tokenRefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// We consume the body entirely and build a new one for the cloned request,
	// so the original is closed here rather than forwarded.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // OAuth2 spec defines single-value parameters
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")

	return t.base.RoundTrip(newReq)
}
