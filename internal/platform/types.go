package platform

import "fmt"

// Endpoint is one managed endpoint on the platform
type Endpoint struct {
	// ID is the platform's endpoint identifier
	ID string `json:"id"`

	// Name is the endpoint's system name
	Name string `json:"systemName"`

	// OrganizationID is the owning platform organization
	OrganizationID string `json:"organizationId,omitempty"`

	// CustomFields holds the endpoint's existing custom attribute values
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// endpointPage is one page of an organization's endpoint listing
type endpointPage struct {
	Endpoints  []Endpoint `json:"endpoints"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// tokenResponse is the platform token endpoint response
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// AuthError indicates a credential failure against the platform
type AuthError struct {
	Err error
}

// Error returns the error message
func (e *AuthError) Error() string {
	return fmt.Sprintf("platform authentication failed: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *AuthError) Unwrap() error {
	return e.Err
}
