package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/quantrail/quantachat/session"
	"github.com/rs/zerolog/log"
)

// maxInspectBody bounds how much of a response body the transport will read
// for token rotation and 401 classification.
const maxInspectBody = 1 << 20

// Transport is the http.RoundTripper carrying the client's session
// discipline.
//
// Request phase: attaches the current bearer token and disables caching.
// Response phase: applies server-pushed token rotation through
// SetTokenSafely (never a blind overwrite), and on 401 classifies the cause,
// clears the session for expiry and revocation, and fires the matching hook.
// Other 401 causes pass through untouched.
type Transport struct {
	base      http.RoundTripper
	store     *session.Store
	onRevoked func(*AuthError)
	onExpired func(*AuthError)
}

var _ http.RoundTripper = (*Transport)(nil)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithBase sets the underlying round tripper (default http.DefaultTransport).
func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.base = rt
	}
}

// WithRevokedHook is called after the session is cleared because the token
// was revoked or the account deleted. UIs surface a blocking notice here.
func WithRevokedHook(hook func(*AuthError)) TransportOption {
	return func(t *Transport) {
		t.onRevoked = hook
	}
}

// WithExpiredHook is called after the session is cleared because the token
// expired or was rejected as invalid. UIs redirect to login here.
func WithExpiredHook(hook func(*AuthError)) TransportOption {
	return func(t *Transport) {
		t.onExpired = hook
	}
}

// NewTransport creates a Transport over the given session store.
func NewTransport(store *session.Store, options ...TransportOption) *Transport {
	t := &Transport{
		base:  http.DefaultTransport,
		store: store,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// rotationEnvelope matches the two shapes the backend uses to push a rotated
// token alongside a successful response.
type rotationEnvelope struct {
	NewToken string `json:"newToken"`
	Session  struct {
		Token string `json:"token"`
	} `json:"session"`
}

// authErrorBody is the relevant slice of a 401 response body.
type authErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())

	if sess := t.store.Read(); sess != nil && sess.Token != "" {
		out.Header.Set("Authorization", "Bearer "+sess.Token)
	}
	out.Header.Set("Cache-Control", "no-cache")
	out.Header.Set("Pragma", "no-cache")
	out.Header.Set("Expires", "0")

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		t.applyRotation(resp)
	case resp.StatusCode == http.StatusUnauthorized:
		t.handleUnauthorized(resp)
	}

	return resp, nil
}

// applyRotation picks up a server-initiated token rotation from a success
// response body.
func (t *Transport) applyRotation(resp *http.Response) {
	body, ok := t.snapshotBody(resp)
	if !ok {
		return
	}

	var envelope rotationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return
	}

	rotated := envelope.NewToken
	if rotated == "" {
		rotated = envelope.Session.Token
	}
	if rotated == "" {
		return
	}

	if !t.store.SetTokenSafely(rotated, t.store.Persisted()) {
		log.Warn().Msg("server-pushed token rotation rejected")
	}
}

// handleUnauthorized classifies a 401 and tears the session down when the
// cause is expiry or revocation. Unclassified 401s are left for the caller.
func (t *Transport) handleUnauthorized(resp *http.Response) {
	body, ok := t.snapshotBody(resp)
	if !ok {
		return
	}

	var parsed authErrorBody
	_ = json.Unmarshal(body, &parsed)

	authErr := ClassifyAuthError(parsed.Code, parsed.Message)
	switch authErr.Class {
	case AuthErrorRevoked:
		t.store.Clear()
		if t.onRevoked != nil {
			t.onRevoked(authErr)
		}
	case AuthErrorExpired:
		t.store.Clear()
		if t.onExpired != nil {
			t.onExpired(authErr)
		}
	}
}

// snapshotBody reads a bounded copy of the response body and replaces it so
// the caller can still consume the response.
func (t *Transport) snapshotBody(resp *http.Response) ([]byte, bool) {
	if resp.Body == nil {
		return nil, false
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "json") {
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInspectBody))
	closeErr := resp.Body.Close()
	if err != nil || closeErr != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return nil, false
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, true
}
