package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnavailable marks transport-level failures: connection refused, timeout,
// unusable base URL. Callers treat it as recoverable.
var ErrUnavailable = errors.New("remote panel unavailable")

// ErrServerNotFound is returned by ResolveServerID when no listed server
// carries the given identifier.
var ErrServerNotFound = errors.New("remote server not found")

const (
	applicationPath = "/api/application"

	// ResolveServerID scans at most resolvePageSize*resolveMaxPages servers.
	resolvePageSize = 100
	resolveMaxPages = 50

	maxBodyBytes = 8 << 20
)

// Credentials identify one remote panel. They are passed per call so that an
// admin saving new settings takes effect on the next request.
type Credentials struct {
	BaseURL string
	APIKey  string
}

// Response is the outcome of one remote call that reached the server.
// Body is the decoded JSON document, or {"raw": text} when the body is not JSON.
type Response struct {
	Status int
	Body   any
}

func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Object returns the body as a JSON object, or nil.
func (r *Response) Object() map[string]any {
	if r == nil {
		return nil
	}
	m, _ := r.Body.(map[string]any)
	return m
}

// Data returns the "data" array of a list response.
func (r *Response) Data() []any {
	list, _ := r.Object()["data"].([]any)
	return list
}

// ResourceID extracts the created resource id from data.id, attributes.id or id.
func (r *Response) ResourceID() (int64, bool) {
	body := r.Object()
	if body == nil {
		return 0, false
	}
	if data, ok := body["data"].(map[string]any); ok {
		if id, ok := Int64(data["id"]); ok {
			return id, true
		}
		if attrs, ok := data["attributes"].(map[string]any); ok {
			if id, ok := Int64(attrs["id"]); ok {
				return id, true
			}
		}
	}
	if attrs, ok := body["attributes"].(map[string]any); ok {
		if id, ok := Int64(attrs["id"]); ok {
			return id, true
		}
	}
	return Int64(body["id"])
}

// Raw serializes the body for storage on the order.
func (r *Response) Raw() string {
	if r == nil || r.Body == nil {
		return ""
	}
	b, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Sprintf("%v", r.Body)
	}
	return string(b)
}

type CreateUserRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

type Limits struct {
	Memory int64 `json:"memory"`
	Swap   int64 `json:"swap"`
	Disk   int64 `json:"disk"`
	IO     int64 `json:"io"`
	CPU    int64 `json:"cpu"`
}

type AllocationRef struct {
	Default int64 `json:"default"`
}

type CreateServerRequest struct {
	Name              string            `json:"name"`
	User              int64             `json:"user"`
	Egg               int64             `json:"egg"`
	Nest              int64             `json:"nest"`
	DockerImage       string            `json:"docker_image,omitempty"`
	Environment       map[string]string `json:"environment"`
	Limits            Limits            `json:"limits"`
	FeatureLimits     map[string]any    `json:"feature_limits"`
	Startup           string            `json:"startup"`
	Allocation        AllocationRef     `json:"allocation"`
	StartOnCompletion bool              `json:"start_on_completion"`
	ExternalID        string            `json:"external_id,omitempty"`
}

// PanelClient talks to the Pterodactyl application API.
type PanelClient struct {
	discovery *http.Client
	mutation  *http.Client
	log       *slog.Logger
}

// NewPanelClient creates a client. Listing and lookup calls use
// discoveryTimeout; create, suspend and delete calls use mutationTimeout.
func NewPanelClient(discoveryTimeout, mutationTimeout time.Duration) *PanelClient {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &PanelClient{
		discovery: &http.Client{Timeout: discoveryTimeout, Transport: transport},
		mutation:  &http.Client{Timeout: mutationTimeout, Transport: transport},
		log:       slog.Default().With("component", "panel_client"),
	}
}

// TestConnection lists servers and reports whether the panel accepted the key.
func (c *PanelClient) TestConnection(ctx context.Context, creds Credentials) (*Response, error) {
	return c.get(ctx, creds, "/servers", nil)
}

// ListNodes returns the first page of nodes, up to 100.
func (c *PanelClient) ListNodes(ctx context.Context, creds Credentials) (*Response, error) {
	return c.get(ctx, creds, "/nodes", url.Values{"per_page": {"100"}})
}

// ListNodeAllocations returns the network allocations of one node.
func (c *PanelClient) ListNodeAllocations(ctx context.Context, creds Credentials, nodeID int64) (*Response, error) {
	return c.get(ctx, creds, fmt.Sprintf("/nodes/%d/allocations", nodeID), url.Values{"per_page": {"1000"}})
}

// ListNodeServers returns the servers scheduled on one node.
func (c *PanelClient) ListNodeServers(ctx context.Context, creds Credentials, nodeID int64) (*Response, error) {
	return c.get(ctx, creds, fmt.Sprintf("/nodes/%d/servers", nodeID), url.Values{"per_page": {"1000"}})
}

// ListLocations returns every location, used to label nodes.
func (c *PanelClient) ListLocations(ctx context.Context, creds Credentials) (*Response, error) {
	return c.get(ctx, creds, "/locations", nil)
}

// ListUsers returns the first page of panel users.
func (c *PanelClient) ListUsers(ctx context.Context, creds Credentials) (*Response, error) {
	return c.get(ctx, creds, "/users", url.Values{"per_page": {"100"}})
}

// CreateUser registers a panel account. A 422 usually means the email or
// username is already taken.
func (c *PanelClient) CreateUser(ctx context.Context, creds Credentials, req *CreateUserRequest) (*Response, error) {
	c.log.Info("creating remote user", "username", req.Username)
	return c.send(ctx, c.mutation, creds, http.MethodPost, "/users", nil, req)
}

// GetEgg fetches an application template including its variable declarations.
func (c *PanelClient) GetEgg(ctx context.Context, creds Credentials, nestID, eggID int64) (*Response, error) {
	return c.get(ctx, creds, fmt.Sprintf("/nests/%d/eggs/%d", nestID, eggID), url.Values{"include": {"variables"}})
}

// CreateServer provisions a server on the allocation named in req.
func (c *PanelClient) CreateServer(ctx context.Context, creds Credentials, req *CreateServerRequest) (*Response, error) {
	c.log.Info("creating remote server", "name", req.Name, "allocation", req.Allocation.Default, "external_id", req.ExternalID)
	return c.send(ctx, c.mutation, creds, http.MethodPost, "/servers", nil, req)
}

// SuspendServer stops a server and blocks its owner from starting it.
func (c *PanelClient) SuspendServer(ctx context.Context, creds Credentials, serverID int64) (*Response, error) {
	return c.send(ctx, c.mutation, creds, http.MethodPost, fmt.Sprintf("/servers/%d/suspend", serverID), nil, nil)
}

// UnsuspendServer lifts a suspension.
func (c *PanelClient) UnsuspendServer(ctx context.Context, creds Credentials, serverID int64) (*Response, error) {
	return c.send(ctx, c.mutation, creds, http.MethodPost, fmt.Sprintf("/servers/%d/unsuspend", serverID), nil, nil)
}

// DeleteServer removes a server. The panel answers 404 once it is gone.
func (c *PanelClient) DeleteServer(ctx context.Context, creds Credentials, serverID int64) (*Response, error) {
	c.log.Info("deleting remote server", "server_id", serverID)
	return c.send(ctx, c.mutation, creds, http.MethodDelete, fmt.Sprintf("/servers/%d", serverID), nil, nil)
}

// ListServers returns one page of servers. Zero page or perPage leaves the
// panel default in place.
func (c *PanelClient) ListServers(ctx context.Context, creds Credentials, page, perPage int) (*Response, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	return c.get(ctx, creds, "/servers", q)
}

// GetServerByExternalID looks a server up by the external_id set at creation.
func (c *PanelClient) GetServerByExternalID(ctx context.Context, creds Credentials, externalID string) (*Response, error) {
	return c.get(ctx, creds, "/servers/external/"+url.PathEscape(externalID), nil)
}

// ResolveServerID maps a stored server reference to the numeric id the
// mutation endpoints need. Numeric references are returned as-is; anything
// else is matched against identifier, uuid and external_id while paging the
// server list.
// When a page is rejected its response is returned with a zero id.
func (c *PanelClient) ResolveServerID(ctx context.Context, creds Credentials, ref string) (int64, *Response, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		return id, nil, nil
	}
	if ref == "" {
		return 0, nil, ErrServerNotFound
	}

	for page := 1; page <= resolveMaxPages; page++ {
		resp, err := c.ListServers(ctx, creds, page, resolvePageSize)
		if err != nil {
			return 0, nil, err
		}
		if !resp.OK() {
			return 0, resp, nil
		}

		items := resp.Data()
		for _, item := range items {
			attrs := Attributes(item)
			if String(attrs["identifier"]) == ref || String(attrs["uuid"]) == ref || String(attrs["external_id"]) == ref {
				if id, ok := Int64(attrs["id"]); ok {
					return id, resp, nil
				}
			}
		}

		if len(items) < resolvePageSize || lastPage(resp, page) {
			break
		}
	}

	return 0, nil, ErrServerNotFound
}

func lastPage(resp *Response, page int) bool {
	meta, _ := resp.Object()["meta"].(map[string]any)
	pagination, _ := meta["pagination"].(map[string]any)
	total, ok := Int64(pagination["total_pages"])
	return ok && int64(page) >= total
}

func (c *PanelClient) get(ctx context.Context, creds Credentials, path string, query url.Values) (*Response, error) {
	return c.send(ctx, c.discovery, creds, http.MethodGet, path, query, nil)
}

func (c *PanelClient) send(ctx context.Context, hc *http.Client, creds Credentials, method, path string, query url.Values, payload any) (*Response, error) {
	endpoint, err := buildURL(creds.BaseURL, path, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		c.log.Warn("remote call failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: send request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	c.log.Debug("remote call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(started),
	)

	return &Response{Status: resp.StatusCode, Body: decodeBody(respBody)}, nil
}

func buildURL(base, path string, query url.Values) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	u, err := url.Parse(base + applicationPath + path)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid base url %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: missing host", base)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func decodeBody(b []byte) any {
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return map[string]any{"raw": string(b)}
	}
	return v
}
