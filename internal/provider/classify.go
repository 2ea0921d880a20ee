package provider

import "strings"

// Category is the coarse classification of a provider failure.
type Category string

const (
	CategoryQuota       Category = "quota"
	CategoryRateLimited Category = "rate_limited"
	CategoryEmpty       Category = "empty_response"
	CategoryOther       Category = "other"
)

// Fixed user-facing fallback messages. Terminal failures always surface one
// of these; raw provider errors go to logs and trace diagnostics only.
const (
	msgQuota = "AI quota limit reached. Please try again later or upgrade your API plan."
	msgRate  = "Too many requests. Please wait a moment and try again."
	msgEmpty = "The AI service returned an empty response. This usually means the daily quota " +
		"was exceeded or a rate limit was hit. Please wait a moment and try again."
)

// Classify maps an opaque provider error to a category and a user-facing
// message by substring matching on the error text. This is best-effort
// classification from an untyped error channel, deliberately isolated here:
// a provider API with structured error codes replaces this one function
// without touching the loop. Do not add categories beyond
// quota/rate-limit/empty/other.
func Classify(err error) (Category, string) {
	if err == nil {
		return CategoryOther, ""
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "429") || strings.Contains(lower, "quota"):
		return CategoryQuota, msgQuota
	case strings.Contains(lower, "rate") && strings.Contains(lower, "limit"):
		return CategoryRateLimited, msgRate
	case strings.Contains(lower, "cannot both be empty") || strings.Contains(lower, "must contain"):
		return CategoryEmpty, msgEmpty
	default:
		return CategoryOther, "Error: " + msg
	}
}
