// Package phone canonicalizes and validates Bangladeshi mobile numbers.
// Two customers who typed the same number in different formats must collapse
// to one key, so every blocklist and rate-limit lookup goes through Normalize.
package phone

import "regexp"

var (
	nonDigits = regexp.MustCompile(`\D+`)
	bdMobile  = regexp.MustCompile(`^(880|0)?1[3-9][0-9]{8}$`)
)

// Validation is the detailed result of a phone check.
type Validation struct {
	Valid         bool   `json:"valid"`
	Message       string `json:"message"`
	Normalized    string `json:"normalized,omitempty"`
	International string `json:"international,omitempty"`
}

// Normalize canonicalizes a raw phone string to the 11-digit local form
// (01XXXXXXXXX). Unrecognized shapes are returned digit-stripped but
// otherwise unchanged; callers must treat those as potentially invalid.
func Normalize(raw string) string {
	clean := nonDigits.ReplaceAllString(raw, "")

	switch {
	case len(clean) == 13 && clean[:3] == "880":
		// 8801XXXXXXXXX -> 01XXXXXXXXX
		return "0" + clean[3:]
	case len(clean) == 10 && clean[0] == '1':
		// 1XXXXXXXXX -> 01XXXXXXXXX
		return "0" + clean
	case len(clean) == 11 && clean[0] == '0':
		return clean
	}
	return clean
}

// Validate checks a raw string against the Bangladeshi mobile pattern:
// optional 880 country code or leading zero, then 1, then an operator digit
// 3-9, then exactly eight digits.
func Validate(raw string) Validation {
	if raw == "" {
		return Validation{Valid: false, Message: "Phone number is required"}
	}

	clean := nonDigits.ReplaceAllString(raw, "")
	if !bdMobile.MatchString(clean) {
		return Validation{Valid: false, Message: "Please enter a valid Bangladeshi mobile number"}
	}

	normalized := Normalize(clean)
	return Validation{
		Valid:         true,
		Message:       "Valid phone number",
		Normalized:    normalized,
		International: "+880" + normalized[1:],
	}
}

// IsValid is the boolean shortcut used by checkout gating.
func IsValid(raw string) bool {
	return Validate(raw).Valid
}

// Variations returns every stored form one number may appear under, so order
// history lookups match rows written before normalization was in place.
func Variations(raw string) []string {
	normalized := Normalize(raw)
	if len(normalized) != 11 || normalized[0] != '0' {
		return []string{normalized}
	}
	bare := normalized[1:]
	return []string{
		normalized,    // 01XXXXXXXXX
		"880" + bare,  // 8801XXXXXXXXX
		"+880" + bare, // +8801XXXXXXXXX
		bare,          // 1XXXXXXXXX
	}
}
