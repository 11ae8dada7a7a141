// Package pipeline holds the request-decision core: preset validation,
// rule-driven workflow planning and artist assignment. Everything here is a
// pure function over its inputs so the same inputs always produce the same
// outputs.
package pipeline

import (
	"sort"
	"strings"

	"assetline/internal/domain"
)

// Customer-facing validation messages. These strings reach customers via the
// decision record, so they are part of the external contract.
const (
	ErrNoPacking        = "No texture packing configuration found"
	ErrNoVersion        = "Preset version not specified"
	ErrNoNamingPattern  = "Naming pattern not configured"
	missingChannelsText = "Missing texture channels: "
)

var packingChannels = []string{"r", "g", "b", "a"}

// ValidatePreset checks a customer's technical configuration for
// completeness. A nil preset means the account has none on file. All checks
// run independently; a failed check accumulates an error rather than
// short-circuiting, and no outcome is fatal.
func ValidatePreset(p *domain.Preset) domain.ValidationResult {
	errs := []string{}
	var preset domain.Preset
	if p != nil {
		preset = *p
	}

	// The naming section is optional; only an empty pattern inside an
	// existing section is a configuration fault.
	if preset.Naming != nil && strings.TrimSpace(preset.Naming.Pattern) == "" {
		errs = append(errs, ErrNoNamingPattern)
	}

	if preset.Packing == nil {
		errs = append(errs, ErrNoPacking)
	} else if missing := MissingChannels(preset.Packing); len(missing) > 0 {
		errs = append(errs, missingChannelsText+strings.Join(missing, ", "))
	}

	var version *int
	if preset.Version > 0 {
		v := preset.Version
		version = &v
	} else {
		errs = append(errs, ErrNoVersion)
	}

	return domain.ValidationResult{
		OK:            len(errs) == 0,
		Errors:        errs,
		PresetVersion: version,
	}
}

// MissingChannels returns the sorted list of RGBA channels absent or empty
// in a packing map.
func MissingChannels(packing map[string]string) []string {
	var missing []string
	for _, ch := range packingChannels {
		if strings.TrimSpace(packing[ch]) == "" {
			missing = append(missing, ch)
		}
	}
	sort.Strings(missing)
	return missing
}
