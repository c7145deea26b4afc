// Package bamclient is the typed facade over the remote Address-Management
// HAL+JSON REST API. It owns authentication, retry/backoff, pagination,
// filter-string construction, and the longest-prefix containment lookups
// the path resolver and planner depend on.
package bamclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bamops/reconciler/internal/core"
	"github.com/bamops/reconciler/internal/core/resilience"
)

// Entity is a remote record: a positive integer id, a type discriminator,
// an identity field whose name is kind-specific, and an arbitrary
// properties bag.
type Entity struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	Range      string         `json:"range,omitempty"`
	Address    string         `json:"address,omitempty"`
	AbsoluteName string       `json:"absoluteName,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Config configures a Client.
type Config struct {
	BaseURL            string
	Username           string
	Password           string
	APIVersion         string
	VerifySSL          bool
	MaxConnections     int
	MaxKeepalive       int
	RequestTimeout     time.Duration
	AllowDangerousOps  bool
	PageSize           int
	Logger             *slog.Logger
}

// Client is the authenticated HTTP facade. A Client is safe for concurrent
// use; authentication is serialized internally.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	authMu    sync.Mutex
	token     string
	basicAuth string
	authed    bool

	seenPages   sync.Map // not used; List tracks visited pages in a local map
}

// New builds a Client from cfg. It does not perform an eager authenticate
// call; the first request triggers the double-checked-locking auth path.
func New(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 500
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v2"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxKeepalive,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
	}
}

// retryPolicy returns the transient/429 retry policy: exponential
// backoff, base 1s, cap 10s, up to 3 retries after the first attempt.
func (c *Client) retryPolicy(opName string) *resilience.RetryPolicy {
	return &resilience.RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		Jitter:        true,
		ErrorChecker:  resilience.NewBAMErrorChecker(),
		Logger:        c.logger,
		OperationName: opName,
	}
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/api/%s/%s", c.cfg.BaseURL, c.cfg.APIVersion, path)
}

// GetByID fetches a single entity from collection by numeric id.
func (c *Client) GetByID(ctx context.Context, collection string, id int64) (*Entity, error) {
	var result Entity
	path := fmt.Sprintf("%s/%d", collection, id)
	err := resilience.WithRetry(ctx, c.retryPolicy("get_by_id"), func() error {
		return c.doJSON(ctx, http.MethodGet, path, nil, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Create posts payload to collection and returns the created entity.
func (c *Client) Create(ctx context.Context, collection string, payload map[string]any) (*Entity, error) {
	var result Entity
	err := resilience.WithRetry(ctx, c.retryPolicy("create"), func() error {
		return c.doJSON(ctx, http.MethodPost, collection, payload, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Patch merges payload into the entity identified by id and returns the
// updated entity.
func (c *Client) Patch(ctx context.Context, collection string, id int64, payload map[string]any) (*Entity, error) {
	var result Entity
	path := fmt.Sprintf("%s/%d", collection, id)
	err := resilience.WithRetry(ctx, c.retryPolicy("patch"), func() error {
		return c.doJSON(ctx, http.MethodPatch, path, payload, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete removes the entity identified by id. Deleting a protected kind
// (per rows.IsProtected) requires dangerous=true and the client's
// AllowDangerousOps configuration, otherwise it returns
// core.ErrPermissionDenied without making a request.
func (c *Client) Delete(ctx context.Context, collection string, id int64, protected, dangerous bool) error {
	if protected && !(dangerous && c.cfg.AllowDangerousOps) {
		return fmt.Errorf("%w: delete of protected kind %q requires allow_dangerous_operations", core.ErrPermissionDenied, collection)
	}
	path := fmt.Sprintf("%s/%d", collection, id)
	return resilience.WithRetry(ctx, c.retryPolicy("delete"), func() error {
		return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
	})
}
