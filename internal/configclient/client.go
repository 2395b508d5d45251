package configclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/itsnoxius/mockgate/pkg/models"
)

// ErrBadPayload is returned when the config service answers with a body that
// does not decode into the expected envelope, or with success=false.
var ErrBadPayload = errors.New("malformed config service payload")

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("config service returned status %d: %s", e.Code, e.Body)
}

// Client talks to the external config/persistence service
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	lookups    *expirable.LRU[string, []models.MockResponse]
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the HTTP timeout used for every call
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithToken sets a bearer token sent with every call
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLookupCache sizes the mock path lookup cache; size 0 disables it
func WithLookupCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size <= 0 {
			c.lookups = nil
			return
		}
		c.lookups = expirable.NewLRU[string, []models.MockResponse](size, nil, ttl)
	}
}

// New creates a client for the service rooted at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		lookups: expirable.NewLRU[string, []models.MockResponse](512, nil, 10*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root the client was built with
func (c *Client) BaseURL() string {
	return c.baseURL
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FetchDomains loads every mapping domain from GET /api/config/mappingDomain
func (c *Client) FetchDomains(ctx context.Context) ([]models.MappingDomain, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/config/mappingDomain", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var cr models.ConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if !cr.Success {
		return nil, fmt.Errorf("%w: success=false: %s", ErrBadPayload, cr.Message)
	}
	return cr.Data.MappingDomains, nil
}

// MockResponsesByPath looks up the records for one (domain, path, method).
// Results are cached briefly; the lookup is for display, not for routing.
func (c *Client) MockResponsesByPath(ctx context.Context, domainID int64, path, method string, includeAllStates bool) ([]models.MockResponse, error) {
	q := url.Values{}
	q.Set("domainId", strconv.FormatInt(domainID, 10))
	q.Set("path", path)
	q.Set("method", strings.ToUpper(method))
	if includeAllStates {
		q.Set("includeAllStates", "true")
	}
	key := q.Encode()

	if c.lookups != nil {
		if cached, ok := c.lookups.Get(key); ok {
			return cached, nil
		}
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/mock-responses/path?"+key, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	mocks, err := decodeMocks(env.Data)
	if err != nil {
		return nil, err
	}

	if c.lookups != nil {
		c.lookups.Add(key, mocks)
	}
	return mocks, nil
}

// MockResponsesBatch resolves several (path, method) pairs at once
func (c *Client) MockResponsesBatch(ctx context.Context, req models.MockBatchRequest) ([]models.MockBatchResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/mock-responses/batch", req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	var results []models.MockBatchResult
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &results); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	return results, nil
}

// CreateLog persists one ApiLog through POST /api/logs. The returned row is nil
// when the service acknowledges without echoing the created record.
func (c *Client) CreateLog(ctx context.Context, req models.CreateAPILogRequest) (*models.APILog, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/logs", req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		if errors.Is(err, ErrBadPayload) && resp.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}

	// Sequelize-style rows carry createdAt, plain rows created_at.
	var row struct {
		ID        any       `json:"id"`
		CreatedAt time.Time `json:"created_at"`
		Created   time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(env.Data, &row); err != nil || row.ID == nil {
		return nil, nil
	}
	created := row.CreatedAt
	if created.IsZero() {
		created = row.Created
	}
	return &models.APILog{ID: fmt.Sprint(row.ID), CreatedAt: created}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

func decodeEnvelope(r io.Reader) (*envelope, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: success=false: %s", ErrBadPayload, env.Message)
	}
	return &env, nil
}

// decodeMocks accepts either a list or a single record
func decodeMocks(data json.RawMessage) ([]models.MockResponse, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return []models.MockResponse{}, nil
	}
	if trimmed[0] == '[' {
		var mocks []models.MockResponse
		if err := json.Unmarshal(trimmed, &mocks); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return mocks, nil
	}
	var one models.MockResponse
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return []models.MockResponse{one}, nil
}
