package sync

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devicelabs/entrasync/internal/config"
	"github.com/devicelabs/entrasync/internal/directory"
)

// BuildPatch turns one matched device and its scope's ordered mapping list
// into a flat custom-field patch. Returns nil, never an empty map, when no
// mapping yields a usable value.
//
// A mapping is skipped when the source attribute is absent or a
// blank/whitespace-only string: an existing platform attribute is never
// overwritten with a blank. Defined falsy values (false, 0) pass through.
// If two mappings target the same custom field, the later one wins.
func BuildPatch(device *directory.DeviceRecord, mappings []config.PropertyMapping) map[string]string {
	var patch map[string]string

	for _, mapping := range mappings {
		value, ok := device.Attribute(strings.TrimSpace(mapping.EntraProperty))
		if !ok || value == nil {
			continue
		}

		rendered, usable := renderValue(value)
		if !usable {
			continue
		}

		if patch == nil {
			patch = make(map[string]string)
		}
		patch[mapping.NormalizedCustomField()] = rendered
	}

	return patch
}

// renderValue converts an attribute value to its custom-field string form.
// Blank strings are unusable; every other defined value is kept.
func renderValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	case bool:
		return fmt.Sprintf("%t", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
