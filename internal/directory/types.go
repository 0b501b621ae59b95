package directory

import (
	"fmt"
	"strings"
)

// DeviceRecord is one device as read from the directory, enriched with its
// group memberships. Read-only snapshot; never mutated after fetch.
type DeviceRecord struct {
	ID                    string
	DisplayName           string
	Ownership             string
	EnrollmentProfileName string
	EnrollmentType        string
	ManagementType        string
	OperatingSystem       string

	// IsCompliant and IsManaged are nil when the directory did not report
	// a value; a present false is meaningful and must survive mapping.
	IsCompliant *bool
	IsManaged   *bool

	// ExtensionAttributes holds the directory's extensionAttribute1..15
	// values, keyed by attribute name.
	ExtensionAttributes map[string]string

	// GroupNames is the comma-joined list of group display names the
	// device is a member of.
	GroupNames string
}

// Attribute returns the named directory attribute value. The second return
// is false when the attribute is unknown or the directory reported no value.
// Present-but-false booleans are returned as values, not treated as absent.
func (d *DeviceRecord) Attribute(name string) (any, bool) {
	switch name {
	case "displayName":
		return d.DisplayName, true
	case "deviceOwnership":
		return d.Ownership, true
	case "enrollmentProfileName":
		return d.EnrollmentProfileName, true
	case "enrollmentType":
		return d.EnrollmentType, true
	case "managementType":
		return d.ManagementType, true
	case "operatingSystem":
		return d.OperatingSystem, true
	case "isCompliant":
		if d.IsCompliant == nil {
			return nil, false
		}
		return *d.IsCompliant, true
	case "isManaged":
		if d.IsManaged == nil {
			return nil, false
		}
		return *d.IsManaged, true
	case "groupNames":
		return d.GroupNames, true
	}

	if strings.HasPrefix(name, "extensionAttribute") {
		value, ok := d.ExtensionAttributes[name]
		return value, ok
	}

	return nil, false
}

// AuthError indicates a credential failure against the directory
type AuthError struct {
	Tenant string
	Err    error
}

// Error returns the error message
func (e *AuthError) Error() string {
	return fmt.Sprintf("directory authentication failed for tenant %s: %v", e.Tenant, e.Err)
}

// Unwrap returns the underlying error
func (e *AuthError) Unwrap() error {
	return e.Err
}
