package client

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
)

// Namespace is the state of one measurement namespace.
type Namespace struct {
	ID          int    `json:"id"`
	Parent      int    `json:"parent,omitempty"`
	State       string `json:"state"`
	Entries     uint64 `json:"entries"`
	Violations  uint64 `json:"violations"`
	RuntimeSize uint64 `json:"binary_runtime_size"`
}

// MeasureRequest is the payload for Measure. Binary fields are hex encoded.
type MeasureRequest struct {
	Template   string `json:"template,omitempty"`
	PCR        *int   `json:"pcr,omitempty"`
	Name       string `json:"name"`
	Algorithm  string `json:"algorithm,omitempty"`
	FileDigest string `json:"file_digest,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Buffer     string `json:"buffer,omitempty"`
	Violation  bool   `json:"violation,omitempty"`
	Hook       string `json:"hook,omitempty"`
	Op         string `json:"op,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Local      bool   `json:"local,omitempty"`
}

// Admission reports how one namespace's log took a measurement.
type Admission struct {
	Namespace int    `json:"namespace"`
	Position  uint64 `json:"position"`
	Stored    bool   `json:"stored"`
	Code      string `json:"code,omitempty"`
	Errno     int    `json:"errno"`
}

// MeasureResult is the outcome of Measure.
type MeasureResult struct {
	Admissions []Admission `json:"admissions"`
	Digest     string      `json:"digest"`
}

// AuditRecord is one admission attempt as served by the audit route.
type AuditRecord struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	Namespace int       `json:"namespace"`
	Subject   string    `json:"subject"`
	Op        string    `json:"op"`
	PCR       int       `json:"pcr"`
	Cause     string    `json:"cause"`
	Result    int       `json:"result"`
	Info      bool      `json:"audit_info"`
}

// APIError is a non-2xx daemon response.
type APIError struct {
	Status  int
	Code    string
	Errno   int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("imad %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("imad %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsDuplicate reports whether err rejected a digest already in the log.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "DUPLICATE_DIGEST"
}

// Client talks to the imad HTTP API.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithBearerToken attaches an admin token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client for the daemon at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ListNamespaces returns every live namespace.
func (c *Client) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	var wrapper struct {
		Namespaces []Namespace `json:"namespaces"`
	}
	if err := c.getJSON(ctx, "/api/v1/namespaces", &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Namespaces, nil
}

// GetNamespace returns one namespace.
func (c *Client) GetNamespace(ctx context.Context, id int) (*Namespace, error) {
	var ns Namespace
	if err := c.getJSON(ctx, nsPath(id, ""), &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

// CreateNamespace creates a child of parent, optionally activating it.
func (c *Client) CreateNamespace(ctx context.Context, parent int, activate bool) (*Namespace, error) {
	var ns Namespace
	body := map[string]any{"parent": parent, "activate": activate}
	if err := c.sendJSON(ctx, http.MethodPost, "/api/v1/namespaces", body, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

// Activate moves a created namespace to active.
func (c *Client) Activate(ctx context.Context, id int) error {
	return c.sendJSON(ctx, http.MethodPost, nsPath(id, "/activate"), nil, nil)
}

// Teardown destroys a namespace and its log.
func (c *Client) Teardown(ctx context.Context, id int) error {
	return c.sendJSON(ctx, http.MethodDelete, nsPath(id, ""), nil, nil)
}

// ASCIIMeasurements returns the text view of a namespace's log.
func (c *Client) ASCIIMeasurements(ctx context.Context, id int) ([]byte, error) {
	return c.getRaw(ctx, nsPath(id, "/ascii_runtime_measurements"))
}

// BinaryMeasurements returns the binary view of a namespace's log.
func (c *Client) BinaryMeasurements(ctx context.Context, id int) ([]byte, error) {
	return c.getRaw(ctx, nsPath(id, "/binary_runtime_measurements"))
}

// Count returns the number of entries in a namespace's log.
func (c *Client) Count(ctx context.Context, id int) (uint64, error) {
	return c.getUint(ctx, nsPath(id, "/runtime_measurements_count"))
}

// Violations returns a namespace's violation counter.
func (c *Client) Violations(ctx context.Context, id int) (uint64, error) {
	return c.getUint(ctx, nsPath(id, "/violations"))
}

// RuntimeSize returns the size of a namespace's binary export.
func (c *Client) RuntimeSize(ctx context.Context, id int) (uint64, error) {
	return c.getUint(ctx, nsPath(id, "/binary_runtime_size"))
}

// Measure submits a measurement to namespace id. When the daemon rejects the
// measurement in the first namespace, the decoded result is returned together
// with an *APIError.
func (c *Client) Measure(ctx context.Context, id int, m MeasureRequest) (*MeasureResult, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, nsPath(id, "/measurements"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.doStatusBody(req, 1<<16)
	if err != nil {
		return nil, err
	}
	var res MeasureResult
	if jsonErr := json.Unmarshal(body, &res); jsonErr != nil || len(res.Admissions) == 0 {
		if status >= 300 {
			return nil, apiError(status, body)
		}
		return nil, fmt.Errorf("decode measure response: %w", jsonErr)
	}
	if status >= 300 {
		apiErr := apiError(status, body)
		if first := res.Admissions[0]; apiErr.Code == "" && first.Code != "" {
			apiErr.Code, apiErr.Errno = first.Code, first.Errno
		}
		return &res, apiErr
	}
	return &res, nil
}

// PCR returns every bank of a trust-anchor register, hex encoded by
// algorithm name.
func (c *Client) PCR(ctx context.Context, pcr int) (map[string]string, error) {
	var resp struct {
		Banks map[string]string `json:"banks"`
	}
	if err := c.getJSON(ctx, "/api/v1/pcrs/"+strconv.Itoa(pcr), &resp); err != nil {
		return nil, err
	}
	return resp.Banks, nil
}

// Audit returns up to limit of a namespace's most recent audit records.
func (c *Client) Audit(ctx context.Context, id int, limit int) ([]AuditRecord, error) {
	var resp struct {
		Records []AuditRecord `json:"records"`
	}
	if err := c.getJSON(ctx, nsPath(id, "/audit?limit="+strconv.Itoa(limit)), &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func nsPath(id int, suffix string) string {
	return "/api/v1/namespaces/" + strconv.Itoa(id) + suffix
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req, 1<<20)
	if err != nil {
		return err
	}
	if out == nil || len(resp) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// maxExport bounds a downloaded measurement list.
const maxExport = 256 << 20

func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, maxExport)
}

func (c *Client) getUint(ctx context.Context, path string) (uint64, error) {
	body, err := c.getRaw(ctx, path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return n, nil
}

// do executes an HTTP request, attaching the Bearer token if present, and
// fails on any non-2xx status.
func (c *Client) do(req *http.Request, limit int64) ([]byte, error) {
	status, body, err := c.doStatusBody(req, limit)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, apiError(status, body)
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body, error)
// without failing on 4xx responses. The caller interprets the status code.
func (c *Client) doStatusBody(req *http.Request, limit int64) (int, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func apiError(status int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
		Errno int    `json:"errno"`
	}
	e := &APIError{Status: status}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message, e.Code, e.Errno = payload.Error, payload.Code, payload.Errno
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	return e
}
