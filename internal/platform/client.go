// Package platform talks to the endpoint-management platform: token
// acquisition, paginated endpoint listing, and custom-field patching.
package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/devicelabs/entrasync/internal/config"
	"github.com/devicelabs/entrasync/internal/httpclient"
)

// Repository is the orchestrator's view of the endpoint platform
//
//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks -source=client.go Repository
type Repository interface {
	// AcquireToken performs the client-credentials grant and returns a
	// bearer token shared by all jobs of one run.
	AcquireToken(ctx context.Context, clientSecret string) (string, error)

	// ListEndpoints returns all managed endpoints of an organization,
	// paginating internally with the given page size.
	ListEndpoints(ctx context.Context, token, organizationID string, pageSize int) ([]Endpoint, error)

	// ApplyPatch writes custom-field values to one endpoint and returns
	// the updated record.
	ApplyPatch(ctx context.Context, token, organizationID, endpointID string, patch map[string]string) (*Endpoint, error)
}

// Client is the HTTP implementation of Repository
type Client struct {
	http    httpclient.Client
	baseURL string
	cfg     *config.PlatformConfig
	logger  *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(client httpclient.Client) ClientOption {
	return func(c *Client) {
		c.http = client
	}
}

// NewClient creates a platform API client from the platform configuration.
func NewClient(cfg *config.PlatformConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		http:    httpclient.NewDefaultClient(0),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcquireToken performs the client-credentials grant against the platform
// token endpoint.
func (c *Client) AcquireToken(ctx context.Context, clientSecret string) (string, error) {
	if c.cfg.ClientID == "" || clientSecret == "" {
		return "", &AuthError{Err: fmt.Errorf("clientId and client secret are required")}
	}

	form := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.cfg.ClientID,
		"client_secret": clientSecret,
		"scope":         "monitoring management",
	}

	var resp tokenResponse
	if err := c.http.PostForm(ctx, c.baseURL+"/oauth/token", form, &resp); err != nil {
		return "", &AuthError{Err: err}
	}
	if resp.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned no access token")}
	}

	c.logger.Debug("Acquired platform token")
	return resp.AccessToken, nil
}

// ListEndpoints pages through an organization's endpoint listing
func (c *Client) ListEndpoints(ctx context.Context, token, organizationID string, pageSize int) ([]Endpoint, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}

	var endpoints []Endpoint
	cursor := ""
	for {
		listURL := fmt.Sprintf("%s/v2/organizations/%s/endpoints?pageSize=%d",
			c.baseURL, url.PathEscape(organizationID), pageSize)
		if cursor != "" {
			listURL += "&cursor=" + url.QueryEscape(cursor)
		}

		var page endpointPage
		if err := c.http.GetJSON(ctx, listURL, headers, &page); err != nil {
			return nil, fmt.Errorf("failed to list endpoints for organization %s: %w", organizationID, err)
		}

		endpoints = append(endpoints, page.Endpoints...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	c.logger.Debug("Fetched platform endpoints",
		zap.String("organizationId", organizationID),
		zap.Int("endpointCount", len(endpoints)))

	return endpoints, nil
}

// ApplyPatch writes custom-field values to one endpoint
func (c *Client) ApplyPatch(
	ctx context.Context, token, organizationID, endpointID string, patch map[string]string,
) (*Endpoint, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}

	patchURL := fmt.Sprintf("%s/v2/organizations/%s/endpoints/%s/custom-fields",
		c.baseURL, url.PathEscape(organizationID), url.PathEscape(endpointID))

	var updated Endpoint
	if err := c.http.PatchJSON(ctx, patchURL, headers, patch, &updated); err != nil {
		return nil, fmt.Errorf("failed to patch endpoint %s: %w", endpointID, err)
	}

	return &updated, nil
}
