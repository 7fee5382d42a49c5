// Package rest talks to a list site over its JSON HTTP API.
package rest

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

	"github.com/google/uuid"

	"github.com/andys/listimport/schema"
	"github.com/andys/listimport/store"
)

// Options configures a Session
type Options struct {
	Timeout       time.Duration
	CreatedField  string
	ModifiedField string
	Verbose       bool // Print each request sent to the site

	// HTTPClient overrides the default client, mainly for tests
	HTTPClient *http.Client
}

// Session is an authenticated connection to a list site
type Session struct {
	client *http.Client
	site   string
	token  string
	opts   Options
}

var _ store.Session = (*Session)(nil)

// HTTPError is a non-success response from the site
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type fieldInfo struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Choices    []string `json:"choices,omitempty"`
	PrimaryKey bool     `json:"primaryKey,omitempty"`
}

type fieldsResponse struct {
	Fields []fieldInfo `json:"fields"`
}

type batchRequest struct {
	Items []store.Item `json:"items"`
}

type itemResult struct {
	ID    int64  `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

type batchResponse struct {
	Results []itemResult `json:"results"`
}

type systemUpdate struct {
	ID     int64                `json:"id"`
	Fields map[string]time.Time `json:"fields"`
}

type systemUpdateRequest struct {
	Updates []systemUpdate `json:"updates"`
}

// Connect authenticates against the site with the client credentials flow.
// Empty credentials skip authentication.
func Connect(ctx context.Context, site string, creds store.Credentials, opts Options) (*Session, error) {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	s := &Session{
		client: client,
		site:   strings.TrimRight(site, "/"),
		opts:   opts,
	}
	if creds.ClientID == "" {
		return s, nil
	}

	var token tokenResponse
	err := s.do(ctx, http.MethodPost, "/_api/token", tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}, &token)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("failed to obtain access token: %w: empty token", store.ErrAuth)
	}
	s.token = token.AccessToken
	return s, nil
}

func listPath(list, suffix string) string {
	return "/_api/lists/" + url.PathEscape(list) + suffix
}

// ListFields returns the fields of a list
func (s *Session) ListFields(ctx context.Context, list string) ([]schema.Field, error) {
	var resp fieldsResponse
	if err := s.do(ctx, http.MethodGet, listPath(list, "/fields"), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list fields of %s: %w", list, err)
	}

	fields := make([]schema.Field, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		field := schema.Field{
			Name: f.Name,
			Type: f.Type,
			IsID: f.PrimaryKey,
		}
		switch strings.ToLower(f.Type) {
		case "choice":
			field.Kind = schema.Choice
			field.Choices = schema.NewChoiceSet(f.Choices...)
		case "multichoice":
			field.Kind = schema.MultiChoice
			field.Choices = schema.NewChoiceSet(f.Choices...)
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// CreateItems submits the items as one batch request. The site applies the
// batch as a single change set and reports the outcome per item.
func (s *Session) CreateItems(ctx context.Context, list string, items []store.Item) ([]store.ItemResult, error) {
	var resp batchResponse
	if err := s.do(ctx, http.MethodPost, listPath(list, "/items/batch"), batchRequest{Items: items}, &resp); err != nil {
		return nil, err
	}

	results := make([]store.ItemResult, len(resp.Results))
	for i, r := range resp.Results {
		if r.Error != "" {
			results[i] = store.ItemResult{Err: errors.New(r.Error)}
			continue
		}
		results[i] = store.ItemResult{ID: r.ID}
	}
	return results, nil
}

// OverwriteTimestamps sets created/modified values through the system update
// endpoint, which leaves the items' version untouched
func (s *Session) OverwriteTimestamps(ctx context.Context, list string, updates []store.TimestampUpdate) error {
	req := systemUpdateRequest{Updates: make([]systemUpdate, 0, len(updates))}
	for _, u := range updates {
		fields := make(map[string]time.Time, 2)
		if !u.Created.IsZero() {
			fields[s.opts.CreatedField] = u.Created
		}
		if !u.Modified.IsZero() {
			fields[s.opts.ModifiedField] = u.Modified
		}
		if len(fields) == 0 {
			continue
		}
		req.Updates = append(req.Updates, systemUpdate{ID: u.ID, Fields: fields})
	}
	if len(req.Updates) == 0 {
		return nil
	}

	return s.do(ctx, http.MethodPost, listPath(list, "/items/systemupdate"), req, nil)
}

// Close releases idle connections
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends one JSON request and decodes the response into out, if given
func (s *Session) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.site+path, body)
	if err != nil {
		return fmt.Errorf("create request error: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)
	if s.opts.Verbose {
		fmt.Printf("Sending request: %s %s (%s)\n", method, req.URL.Redacted(), requestID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError converts a failed response into ErrAuth, a RateLimitError or an HTTPError
func statusError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(bodyBytes)),
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", store.ErrAuth, httpErr)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return &store.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        httpErr,
		}
	default:
		return httpErr
	}
}

// parseRetryAfter reads a Retry-After header given in seconds
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
