// Package api is the typed client for the primary QuantaChat backend. All
// requests flow through Transport, which owns bearer injection, token
// rotation and 401 handling.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/quantrail/quantachat/auth"
	"github.com/quantrail/quantachat/session"
	"github.com/quantrail/quantachat/users"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the primary backend's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *session.Store
}

var _ auth.IdentityService = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The caller is
// responsible for wiring a Transport into it.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a backend client whose requests carry the session
// discipline of the given store.
func NewClient(baseURL string, store *session.Store, transportOptions []TransportOption, options ...ClientOption) (*Client, error) {
	if store == nil {
		return nil, errors.New("[NewClient] session store is required")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		httpClient: &http.Client{
			Transport: NewTransport(store, transportOptions...),
			Timeout:   defaultRequestTimeout,
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Organization is the tenant record the session belongs to.
type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DatabaseConnection is a stored database connection record.
type DatabaseConnection struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	DatabaseType     string `json:"database_type"`
	Host             string `json:"host,omitempty"`
	Port             int    `json:"port,omitempty"`
	DatabaseName     string `json:"database_name,omitempty"`
	Username         string `json:"username,omitempty"`
	ConnectionString string `json:"connection_string,omitempty"`
}

// UserUpsert carries the fields the admin panel can set on a user.
type UserUpsert struct {
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Password string     `json:"password,omitempty"`
	Role     users.Role `json:"role"`
}

type userEnvelope struct {
	User struct {
		users.User
		Token string `json:"token,omitempty"`
	} `json:"user"`
	Token string `json:"token,omitempty"`
}

// Login authenticates with email and password. On success the issued token
// becomes the current session; persist selects remember-me storage.
func (c *Client) Login(ctx context.Context, email, password string, persist bool) (*users.User, error) {
	var envelope userEnvelope
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Login] request")
	}
	return c.adoptLogin(&envelope, persist)
}

// GoogleLogin authenticates with a verified Google ID token.
func (c *Client) GoogleLogin(ctx context.Context, idToken string, persist bool) (*users.User, error) {
	var envelope userEnvelope
	err := c.do(ctx, http.MethodPost, "/api/auth/google", map[string]string{
		"token": idToken,
	}, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GoogleLogin] request")
	}
	return c.adoptLogin(&envelope, persist)
}

// adoptLogin stores the issued token as the current session. The token may
// arrive top-level or nested under the user record.
func (c *Client) adoptLogin(envelope *userEnvelope, persist bool) (*users.User, error) {
	issued := envelope.Token
	if issued == "" {
		issued = envelope.User.Token
	}
	if issued == "" {
		return nil, errors.New("[Client.adoptLogin] no token in login response")
	}

	if !c.store.StoreTokenForLogin(issued, persist) {
		return nil, errors.New("[Client.adoptLogin] issued token could not be decoded")
	}

	user := envelope.User.User
	return &user, nil
}

// CurrentUser fetches the server-confirmed identity. This is the
// authorization gate's identity source.
func (c *Client) CurrentUser(ctx context.Context) (*users.User, error) {
	var envelope userEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &envelope); err != nil {
		return nil, errors.Wrap(err, "[Client.CurrentUser] request")
	}

	user := envelope.User.User
	if user.ID == 0 {
		return nil, errors.New("[Client.CurrentUser] response carried no user")
	}
	return &user, nil
}

// RefreshSession asks the backend for a fresh token. The rotation itself is
// applied by the transport when the response arrives.
func (c *Client) RefreshSession(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/api/auth/refresh-session", nil, nil); err != nil {
		return errors.Wrap(err, "[Client.RefreshSession] request")
	}
	return nil
}

// SelectedDatabase returns the database connection id the user last
// selected, zero if none.
func (c *Client) SelectedDatabase(ctx context.Context) (int64, error) {
	var out struct {
		DatabaseID int64 `json:"database_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/selected-database", nil, &out); err != nil {
		return 0, errors.Wrap(err, "[Client.SelectedDatabase] request")
	}
	return out.DatabaseID, nil
}

// SetSelectedDatabase records the user's selected database connection.
func (c *Client) SetSelectedDatabase(ctx context.Context, databaseID int64) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/selected-database", map[string]int64{
		"database_id": databaseID,
	}, nil)
	if err != nil {
		return errors.Wrap(err, "[Client.SetSelectedDatabase] request")
	}
	return nil
}

// Organization returns the organization the session belongs to.
func (c *Client) Organization(ctx context.Context) (*Organization, error) {
	var out struct {
		Organization Organization `json:"organization"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/organization", nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.Organization] request")
	}
	return &out.Organization, nil
}

// ListUsers returns all users visible to the caller. Role gating happens
// server-side; the client just renders what it gets.
func (c *Client) ListUsers(ctx context.Context) ([]users.User, error) {
	var out struct {
		Users []users.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.ListUsers] request")
	}
	return out.Users, nil
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, upsert UserUpsert) (*users.User, error) {
	var envelope userEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/users", upsert, &envelope); err != nil {
		return nil, errors.Wrap(err, "[Client.CreateUser] request")
	}
	user := envelope.User.User
	return &user, nil
}

// UpdateUser updates a user. If the caller edited their own record the
// backend pushes a rotated token alongside the response, which the transport
// applies.
func (c *Client) UpdateUser(ctx context.Context, id int64, upsert UserUpsert) (*users.User, error) {
	var envelope userEnvelope
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/users/%d", id), upsert, &envelope); err != nil {
		return nil, errors.Wrap(err, "[Client.UpdateUser] request")
	}
	user := envelope.User.User
	return &user, nil
}

// DeleteUser deletes a user.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/users/%d", id), nil, nil); err != nil {
		return errors.Wrap(err, "[Client.DeleteUser] request")
	}
	return nil
}

// ListDatabases returns the stored database connections.
func (c *Client) ListDatabases(ctx context.Context) ([]DatabaseConnection, error) {
	var out struct {
		Databases []DatabaseConnection `json:"databases"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/databases", nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.ListDatabases] request")
	}
	return out.Databases, nil
}

// CreateDatabase stores a new database connection.
func (c *Client) CreateDatabase(ctx context.Context, conn DatabaseConnection) (*DatabaseConnection, error) {
	var out struct {
		Database DatabaseConnection `json:"database"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/databases", conn, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.CreateDatabase] request")
	}
	return &out.Database, nil
}

// UpdateDatabase updates a stored database connection.
func (c *Client) UpdateDatabase(ctx context.Context, conn DatabaseConnection) (*DatabaseConnection, error) {
	var out struct {
		Database DatabaseConnection `json:"database"`
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/databases/%d", conn.ID), conn, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.UpdateDatabase] request")
	}
	return &out.Database, nil
}

// DeleteDatabase removes a stored database connection.
func (c *Client) DeleteDatabase(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/databases/%d", id), nil, nil); err != nil {
		return errors.Wrap(err, "[Client.DeleteDatabase] request")
	}
	return nil
}

// Document is a document-collection entry available for chat.
type Document struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// ListDocuments returns the documents in the user's collection.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var out struct {
		Documents []Document `json:"documents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/docs", nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.ListDocuments] request")
	}
	return out.Documents, nil
}

// UploadDocument uploads a document as multipart form data.
func (c *Client) UploadDocument(ctx context.Context, name, contentType string, content io.Reader) (*Document, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.UploadDocument] building form")
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, errors.Wrap(err, "[Client.UploadDocument] copying content")
	}
	if contentType != "" {
		if err := form.WriteField("content_type", contentType); err != nil {
			return nil, errors.Wrap(err, "[Client.UploadDocument] building form")
		}
	}
	if err := form.Close(); err != nil {
		return nil, errors.Wrap(err, "[Client.UploadDocument] building form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/docs", &buf)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.UploadDocument] building request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.UploadDocument] request")
	}
	defer resp.Body.Close()

	var out struct {
		Document Document `json:"document"`
	}
	if err := c.decodeResponse(resp, http.MethodPost, "/api/docs", &out); err != nil {
		return nil, errors.Wrap(err, "[Client.UploadDocument] response")
	}
	return &out.Document, nil
}

// DeleteDocument removes a document from the collection.
func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/docs/%d", id), nil, nil); err != nil {
		return errors.Wrap(err, "[Client.DeleteDocument] request")
	}
	return nil
}

// do executes one JSON request. Non-2xx responses become errors; a 401 body
// is classified into an *AuthError the caller can inspect with errors.As.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.decodeResponse(resp, method, path, out)
}

// decodeResponse turns a response into either the decoded body or an error.
// A 401 body is classified into an *AuthError.
func (c *Client) decodeResponse(resp *http.Response, method, path string, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInspectBody))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed authErrorBody
		_ = json.Unmarshal(data, &parsed)

		if resp.StatusCode == http.StatusUnauthorized {
			return ClassifyAuthError(parsed.Code, parsed.Message)
		}
		if parsed.Message != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, parsed.Message, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}
