// Package masking redacts device tokens and other credentials before they
// reach logs or audit rows.
package masking

import "strings"

const (
	mask       = "****"
	keepSuffix = 4
	// Anything this short would be mostly revealed by the suffix.
	minRevealLength = 2 * keepSuffix
)

// MaskSecret keeps only the last four characters of value. FCM tokens carry
// an instance id before the first colon which is dropped with the rest.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= minRevealLength {
		return mask
	}
	return mask + trimmed[len(trimmed)-keepSuffix:]
}

// MaskFields returns a copy of metadata with the string values under keys
// masked. Other entries are copied as is.
func MaskFields(metadata map[string]any, keys ...string) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[key] = struct{}{}
	}

	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if s, ok := value.(string); ok {
			if _, hide := sensitive[key]; hide {
				out[key] = MaskSecret(s)
				continue
			}
		}
		out[key] = value
	}
	return out
}
