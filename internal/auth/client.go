// Package auth signs a user up with the matching service over HTTP.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const authPath = "/auth"

// ErrAuthFailed is returned for any non-2xx response.
var ErrAuthFailed = errors.New("authentication failed")

// APIError is the structured error body of a failed call.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth API error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth API error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return ErrAuthFailed }

// Request carries one signup call.
type Request struct {
	UserID        string
	DeviceID      string
	Token         string
	Authorization string
	SessionID     string
	Username      string
	Password      string
}

// Response is the identity granted by the service.
type Response struct {
	UserID    string `json:"udid"`
	AuthToken string `json:"token"`
}

type body struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type errorBody struct {
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// Client calls the authentication endpoint.
type Client struct {
	baseURL   string
	endpoint  string
	userAgent string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a client for baseURL (e.g. https://host/api) and the
// service endpoint (e.g. @fadfedx).
func NewClient(baseURL, endpoint, userAgent string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		endpoint:  strings.Trim(endpoint, "/"),
		userAgent: userAgent,
		http:      httpClient,
		logger:    logger,
	}
}

// NewRequest prepares a signup for name on deviceID: a fresh session id, the
// token derived from it and the matching Authorization header. The name
// doubles as username and password.
func NewRequest(name, deviceID string) Request {
	sessionID := uuid.NewString()
	token := GenerateToken(sessionID, deviceID)
	return Request{
		UserID:        name,
		DeviceID:      deviceID,
		Token:         token,
		Authorization: BasicAuthHeader(deviceID, token),
		SessionID:     sessionID,
		Username:      name,
		Password:      name,
	}
}

// Authenticate performs the signup call.
func (c *Client) Authenticate(ctx context.Context, r Request) (*Response, error) {
	payload, err := json.Marshal(body{Username: r.Username, Password: r.Password})
	if err != nil {
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}

	q := url.Values{}
	q.Set("udid", r.UserID)
	q.Set("devid", r.DeviceID)
	q.Set("token", r.Token)
	endpoint := fmt.Sprintf("%s/%s%s?%s", c.baseURL, c.endpoint, authPath, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", r.Authorization)
	req.Header.Set("X-Session-ID", r.SessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send auth request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read auth response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp.StatusCode, data)
		c.logger.Warn("auth rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
			zap.String("message", apiErr.Message))
		return nil, apiErr
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	if out.UserID == "" || out.AuthToken == "" {
		return nil, fmt.Errorf("decode auth response: %w", errors.New("missing udid or token"))
	}
	c.logger.Info("authenticated", zap.String("udid", out.UserID))
	return &out, nil
}

func decodeError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil || eb.Error == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			apiErr.Message = text
		}
		return apiErr
	}
	apiErr.Code = strings.Trim(string(eb.Error.Code), `"`)
	if eb.Error.Message != "" {
		apiErr.Message = eb.Error.Message
	}
	return apiErr
}
