// Package pinggy is the client for the external AI service that turns
// natural-language questions into SQL, executes it, and summarizes or charts
// the results. Every operation runs inside a short-lived per-database
// session tracked by the dbsession registry.
package pinggy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/quantrail/quantachat/dbsession"
)

const (
	defaultRequestTimeout = 2 * time.Minute
	maxResponseBody       = 8 << 20 // chart images arrive base64-inline
)

// Client talks to the AI service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	registry   *dbsession.Registry
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates an AI-service client. Sessions obtained via Connect are
// recorded in the given registry; query operations resolve their session id
// from it.
func NewClient(baseURL string, registry *dbsession.Registry, options ...ClientOption) (*Client, error) {
	if registry == nil {
		return nil, errors.New("[pinggy.NewClient] session registry is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		registry:   registry,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// ConnectRequest describes the database the AI service should open a
// session against. Either Credentials or ConnectionString is set, matching
// the connection_type.
type ConnectRequest struct {
	ConnectionType         string            `json:"connection_type"`
	DatabaseType           string            `json:"database_type"`
	Credentials            map[string]string `json:"credentials,omitempty"`
	ConnectionString       string            `json:"connection_string,omitempty"`
	SessionDurationMinutes int               `json:"session_duration_minutes"`
	StoreSchema            bool              `json:"store_schema"`
}

type connectResponse struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Connect opens an AI-service session for the given database connection and
// records it in the registry, replacing any previous session for the same
// database.
func (c *Client) Connect(ctx context.Context, databaseID int64, req ConnectRequest) (*dbsession.Record, error) {
	var resp connectResponse
	if err := c.post(ctx, "/api/v1/database/connect", req, &resp); err != nil {
		return nil, errors.Wrap(err, "[pinggy.Connect] request")
	}
	if !resp.Success || resp.SessionID == "" {
		return nil, errors.New("[pinggy.Connect] service reported failure")
	}

	record := dbsession.Record{
		DBID:      databaseID,
		SessionID: resp.SessionID,
		ExpiresAt: resp.ExpiresAt,
	}
	c.registry.Insert(record)
	return &record, nil
}

// GenerateSQL asks the service to translate a natural-language question into
// SQL for the connected database.
func (c *Client) GenerateSQL(ctx context.Context, databaseID int64, query string) (string, error) {
	sessionID, err := c.liveSession(databaseID)
	if err != nil {
		return "", err
	}

	var resp struct {
		Success      bool   `json:"success"`
		GeneratedSQL string `json:"generated_sql"`
	}
	err = c.post(ctx, "/api/v1/sql/generate-sql", map[string]string{
		"session_id": sessionID,
		"query":      query,
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "[pinggy.GenerateSQL] request")
	}
	if !resp.Success {
		return "", errors.New("[pinggy.GenerateSQL] service reported failure")
	}
	return resp.GeneratedSQL, nil
}

// ExecuteSQL runs SQL against the session's database. The service expects
// the statement base64-encoded.
func (c *Client) ExecuteSQL(ctx context.Context, databaseID int64, sqlQuery string) ([]map[string]any, error) {
	sessionID, err := c.liveSession(databaseID)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Success bool             `json:"success"`
		Data    []map[string]any `json:"data"`
	}
	err = c.post(ctx, "/api/v1/database/execute-sql", map[string]string{
		"session_id": sessionID,
		"sql_query":  base64.StdEncoding.EncodeToString([]byte(sqlQuery)),
	}, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "[pinggy.ExecuteSQL] request")
	}
	if !resp.Success {
		return nil, errors.New("[pinggy.ExecuteSQL] service reported failure")
	}
	return resp.Data, nil
}

// Summarize asks the service for a natural-language summary of query
// results.
func (c *Client) Summarize(ctx context.Context, databaseID int64, data any, userQuestion string) (string, error) {
	sessionID, err := c.liveSession(databaseID)
	if err != nil {
		return "", err
	}

	var resp struct {
		Success bool   `json:"success"`
		Summary string `json:"summary"`
	}
	err = c.post(ctx, "/api/v1/summarize", map[string]any{
		"session_id":    sessionID,
		"data":          data,
		"user_question": userQuestion,
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "[pinggy.Summarize] request")
	}
	if !resp.Success {
		return "", errors.New("[pinggy.Summarize] service reported failure")
	}
	return resp.Summary, nil
}

// VisualizeRequest selects the chart the service should render from query
// results.
type VisualizeRequest struct {
	Data         any    `json:"data"`
	UserQuestion string `json:"user_question"`
	ChartType    string `json:"chart_type"`
	XAxis        string `json:"x_axis"`
	YAxis        string `json:"y_axis"`
}

// Visualize asks the service to render a chart, returned as a base64 image.
func (c *Client) Visualize(ctx context.Context, databaseID int64, req VisualizeRequest) (string, error) {
	sessionID, err := c.liveSession(databaseID)
	if err != nil {
		return "", err
	}

	var resp struct {
		Success          bool   `json:"success"`
		ChartImageBase64 string `json:"chart_image_base64"`
	}
	err = c.post(ctx, "/api/v1/visualize/visualize", map[string]any{
		"session_id":    sessionID,
		"data":          req.Data,
		"user_question": req.UserQuestion,
		"chart_type":    req.ChartType,
		"x_axis":        req.XAxis,
		"y_axis":        req.YAxis,
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "[pinggy.Visualize] request")
	}
	if !resp.Success {
		return "", errors.New("[pinggy.Visualize] service reported failure")
	}
	return resp.ChartImageBase64, nil
}

// liveSession resolves the registry record for a database, requiring it to
// be live. Dead or missing records mean the user must generate a new
// session key; the registry itself is only mutated by explicit removal or
// the expiry sweep.
func (c *Client) liveSession(databaseID int64) (string, error) {
	if !c.registry.IsLive(databaseID) {
		return "", fmt.Errorf("database %d: %w", databaseID, ErrNoSession)
	}
	sessionID, ok := c.registry.Get(databaseID)
	if !ok {
		return "", fmt.Errorf("database %d: %w", databaseID, ErrNoSession)
	}
	return sessionID, nil
}

// post executes one JSON request against the service. Non-2xx responses are
// classified into *ServiceError from the body's detail field.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(raw, &parsed)

		return &ServiceError{
			Code:   classifyDetail(parsed.Detail),
			Status: resp.StatusCode,
			Detail: parsed.Detail,
		}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}
