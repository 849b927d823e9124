// Package cosign is a Go client for the cosignd REST API.
package cosign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Job statuses reported by the daemon.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with cosignd.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials are an operator account configured in the daemon.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token is an issued access/refresh token pair.
type Token struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	TokenType        string `json:"token_type"`
}

// Recipient is one leg of a multi-recipient transfer. Commission is carved
// out of Amount.
type Recipient struct {
	Receiver   string `json:"receiver"`
	Amount     uint64 `json:"amount,string"`
	Commission uint64 `json:"commission,string"`
}

// TransferSubmission asks the daemon to move coins from Sender, paying gas
// from its fee payer account.
type TransferSubmission struct {
	Sender    string            `json:"sender"`
	Transfers []Recipient       `json:"transfers"`
	Memo      string            `json:"memo,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RegistrationSubmission registers the coin store of Sender.
type RegistrationSubmission struct {
	Sender   string            `json:"sender"`
	Memo     string            `json:"memo,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Outcome is the on-chain result of a finished job.
type Outcome struct {
	Hash     string `json:"hash"`
	State    string `json:"state"`
	VMStatus string `json:"vm_status,omitempty"`
	FeePayer string `json:"fee_payer"`
}

// Job is the daemon's view of one queued submission.
type Job struct {
	ID         string            `json:"id"`
	Request    json.RawMessage   `json:"request"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Result     *Outcome          `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Done reports whether the job reached a final status.
func (j Job) Done() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("cosign api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("cosign api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the daemon at rawURL. A nil httpClient
// gets DefaultHTTPTimeout.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges credentials for a token and keeps the access token
// for later calls.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	var token Token
	body := map[string]string{"grant_type": "password", "username": creds.Username, "password": creds.Password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", nil, body, &token, nil); err != nil {
		return Token{}, err
	}
	c.SetAccessToken(token.AccessToken)
	return token, nil
}

// SubmitTransfer enqueues a transfer. A non-empty idempotencyKey becomes the
// job ID, so retrying the call returns the same job.
func (c *Client) SubmitTransfer(ctx context.Context, submission TransferSubmission, idempotencyKey string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/api/v1/transfers", nil, submission, &job, idempotency(idempotencyKey))
	return job, err
}

// SubmitRegistration enqueues a coin store registration.
func (c *Client) SubmitRegistration(ctx context.Context, submission RegistrationSubmission, idempotencyKey string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/api/v1/registrations", nil, submission, &job, idempotency(idempotencyKey))
	return job, err
}

// GetJob fetches a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, nil, &job, nil)
	return job, err
}

// ListJobs lists jobs. query takes the daemon's filters, for example
// status=failed or action=transfer.
func (c *Client) ListJobs(ctx context.Context, query url.Values) ([]Job, error) {
	var list struct {
		Items []Job `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs", query, nil, &list, nil); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// WaitJob polls until the job is done or ctx ends.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AccessToken returns the stored access token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func idempotency(key string) http.Header {
	if key == "" {
		return nil
	}
	return http.Header{"Idempotency-Key": []string{key}}
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any, header http.Header) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
