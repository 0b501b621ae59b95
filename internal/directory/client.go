// Package directory reads device inventory and group memberships from the
// identity directory's Graph-style API.
package directory

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/devicelabs/entrasync/internal/config"
	"github.com/devicelabs/entrasync/internal/httpclient"
)

const (
	// DefaultGraphBaseURL is the directory API base URL
	DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

	// DefaultLoginBaseURL is the token endpoint base URL
	DefaultLoginBaseURL = "https://login.microsoftonline.com"

	// devicePageSize is the page size requested from the devices listing
	devicePageSize = 999
)

// Reader lists directory devices enriched with group memberships
//
//go:generate mockgen -destination=mocks/mock_reader.go -package=mocks -source=client.go Reader
type Reader interface {
	// ListDevicesWithGroups authenticates against the tenant, lists its
	// devices, and enriches each with a flattened group-name string.
	// Records are returned in directory listing order.
	ListDevicesWithGroups(ctx context.Context, tenant *config.TenantConfig, clientSecret string) ([]DeviceRecord, error)
}

// GraphReader is the Graph API implementation of Reader
type GraphReader struct {
	http         httpclient.Client
	graphBaseURL string
	loginBaseURL string
	logger       *zap.Logger
}

// ReaderOption configures a GraphReader
type ReaderOption func(*GraphReader)

// WithGraphBaseURL overrides the directory API base URL
func WithGraphBaseURL(baseURL string) ReaderOption {
	return func(r *GraphReader) {
		r.graphBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithLoginBaseURL overrides the token endpoint base URL
func WithLoginBaseURL(baseURL string) ReaderOption {
	return func(r *GraphReader) {
		r.loginBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(client httpclient.Client) ReaderOption {
	return func(r *GraphReader) {
		r.http = client
	}
}

// NewGraphReader creates a Reader backed by the Graph API.
func NewGraphReader(logger *zap.Logger, opts ...ReaderOption) *GraphReader {
	r := &GraphReader{
		http:         httpclient.NewDefaultClient(0),
		graphBaseURL: DefaultGraphBaseURL,
		loginBaseURL: DefaultLoginBaseURL,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// graphDevice is the wire form of one directory device
type graphDevice struct {
	ID                    string         `json:"id"`
	DisplayName           string         `json:"displayName"`
	DeviceOwnership       string         `json:"deviceOwnership"`
	EnrollmentProfileName string         `json:"enrollmentProfileName"`
	EnrollmentType        string         `json:"enrollmentType"`
	ManagementType        string         `json:"managementType"`
	OperatingSystem       string         `json:"operatingSystem"`
	IsCompliant           *bool          `json:"isCompliant"`
	IsManaged             *bool          `json:"isManaged"`
	ExtensionAttributes   map[string]any `json:"extensionAttributes"`
}

// devicePage is one page of the devices listing
type devicePage struct {
	NextLink string        `json:"@odata.nextLink"`
	Value    []graphDevice `json:"value"`
}

// directoryObject is the subset of a memberOf entry the sync needs
type directoryObject struct {
	ODataType   string `json:"@odata.type"`
	DisplayName string `json:"displayName"`
}

// memberPage is one page of a device's memberOf listing
type memberPage struct {
	NextLink string            `json:"@odata.nextLink"`
	Value    []directoryObject `json:"value"`
}

// ListDevicesWithGroups authenticates once for the tenant, pages through
// its devices, then pages each device's group memberships.
func (r *GraphReader) ListDevicesWithGroups(
	ctx context.Context, tenant *config.TenantConfig, clientSecret string,
) ([]DeviceRecord, error) {
	token, err := r.acquireToken(ctx, tenant, clientSecret)
	if err != nil {
		return nil, &AuthError{Tenant: tenant.Name, Err: err}
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}

	devices, err := r.listDevices(ctx, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices for tenant %s: %w", tenant.Name, err)
	}

	r.logger.Debug("Fetched directory devices",
		zap.String("tenant", tenant.Name),
		zap.Int("deviceCount", len(devices)))

	records := make([]DeviceRecord, 0, len(devices))
	for _, device := range devices {
		groupNames, err := r.listGroupNames(ctx, headers, device.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list group memberships for device %s: %w", device.ID, err)
		}
		records = append(records, toRecord(device, groupNames))
	}

	return records, nil
}

// acquireToken performs the client-credentials grant for the tenant
func (r *GraphReader) acquireToken(ctx context.Context, tenant *config.TenantConfig, clientSecret string) (string, error) {
	if tenant.TenantID == "" || tenant.ClientID == "" || clientSecret == "" {
		return "", fmt.Errorf("tenantId, clientId, and client secret are all required")
	}

	cc := &clientcredentials.Config{
		ClientID:     tenant.ClientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", r.loginBaseURL, tenant.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	token, err := cc.Token(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// listDevices pages through the tenant's device listing
func (r *GraphReader) listDevices(ctx context.Context, headers map[string]string) ([]graphDevice, error) {
	var devices []graphDevice

	next := fmt.Sprintf("%s/devices?$top=%d", r.graphBaseURL, devicePageSize)
	for next != "" {
		var page devicePage
		if err := r.http.GetJSON(ctx, next, headers, &page); err != nil {
			return nil, err
		}
		devices = append(devices, page.Value...)
		next = page.NextLink
	}

	return devices, nil
}

// listGroupNames pages a device's memberOf entries and flattens the group
// display names into one comma-joined string.
func (r *GraphReader) listGroupNames(ctx context.Context, headers map[string]string, deviceID string) (string, error) {
	var names []string

	next := fmt.Sprintf("%s/devices/%s/memberOf", r.graphBaseURL, url.PathEscape(deviceID))
	for next != "" {
		var page memberPage
		if err := r.http.GetJSON(ctx, next, headers, &page); err != nil {
			return "", err
		}
		for _, member := range page.Value {
			if member.ODataType == "#microsoft.graph.group" && member.DisplayName != "" {
				names = append(names, member.DisplayName)
			}
		}
		next = page.NextLink
	}

	return strings.Join(names, ", "), nil
}

// toRecord converts a wire device plus its group names into a DeviceRecord
func toRecord(device graphDevice, groupNames string) DeviceRecord {
	extensions := make(map[string]string)
	for name, value := range device.ExtensionAttributes {
		if s, ok := value.(string); ok && s != "" {
			extensions[name] = s
		}
	}

	return DeviceRecord{
		ID:                    device.ID,
		DisplayName:           device.DisplayName,
		Ownership:             device.DeviceOwnership,
		EnrollmentProfileName: device.EnrollmentProfileName,
		EnrollmentType:        device.EnrollmentType,
		ManagementType:        device.ManagementType,
		OperatingSystem:       device.OperatingSystem,
		IsCompliant:           device.IsCompliant,
		IsManaged:             device.IsManaged,
		ExtensionAttributes:   extensions,
		GroupNames:            groupNames,
	}
}
