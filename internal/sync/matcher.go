package sync

import (
	"strings"

	"github.com/devicelabs/entrasync/internal/directory"
	"github.com/devicelabs/entrasync/internal/platform"
)

// normalizeName trims and case-folds a display name for matching
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// shortName strips everything from the first '.' onward, turning an FQDN
// into its host label. Input is expected to be normalized already.
func shortName(name string) string {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[:idx]
	}
	return name
}

// MatchDevices pairs directory devices with platform endpoints by display
// name. Phase 1 matches on the full normalized name; devices with no
// full-name candidate fall through to a short-name (FQDN-stripped) pass.
// A device with more than one candidate in either phase is ambiguous:
// the sync never silently picks among equally-named endpoints.
func MatchDevices(devices []directory.DeviceRecord, endpoints []platform.Endpoint) MatchResult {
	byFullName := make(map[string][]platform.Endpoint)
	byShortName := make(map[string][]platform.Endpoint)
	for _, endpoint := range endpoints {
		full := normalizeName(endpoint.Name)
		if full == "" {
			continue
		}
		byFullName[full] = append(byFullName[full], endpoint)
		short := shortName(full)
		byShortName[short] = append(byShortName[short], endpoint)
	}

	var result MatchResult
	for _, device := range devices {
		full := normalizeName(device.DisplayName)
		if full == "" {
			result.UnmatchedEntra = append(result.UnmatchedEntra, device)
			continue
		}

		// Phase 1: full-name match. Duplicates do not fall through to the
		// short-name pass.
		if candidates, ok := byFullName[full]; ok {
			if len(candidates) == 1 {
				result.Matched = append(result.Matched, MatchedPair{
					Device:    device,
					Endpoint:  candidates[0],
					MatchType: MatchTypeFull,
				})
			} else {
				result.Ambiguous = append(result.Ambiguous, AmbiguousDevice{
					Device: device,
					Reason: ReasonDuplicateFull,
				})
			}
			continue
		}

		// Phase 2: short-name fallback
		candidates := byShortName[shortName(full)]
		switch len(candidates) {
		case 0:
			result.UnmatchedEntra = append(result.UnmatchedEntra, device)
		case 1:
			result.Matched = append(result.Matched, MatchedPair{
				Device:    device,
				Endpoint:  candidates[0],
				MatchType: MatchTypeShort,
			})
		default:
			result.Ambiguous = append(result.Ambiguous, AmbiguousDevice{
				Device: device,
				Reason: ReasonDuplicateShort,
			})
		}
	}

	return result
}
