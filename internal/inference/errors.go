package inference

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tablenorm/internal/domain"
)

// FailureClass is how the client treats a failed provider call.
type FailureClass int

const (
	// ClassOther failures are returned to the caller without rotating credentials.
	ClassOther FailureClass = iota
	// ClassRateLimit failures rotate to the next credential and may be retried later.
	ClassRateLimit
	// ClassDailyQuota failures rotate to the next credential and are never retried.
	ClassDailyQuota
)

func (c FailureClass) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassDailyQuota:
		return "daily_quota"
	default:
		return "other"
	}
}

// ProviderError is a non-success reply from a provider API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return domain.ErrProviderRejected
}

// NewProviderError builds a ProviderError from an HTTP reply.
func NewProviderError(provider string, resp *http.Response, body []byte) *ProviderError {
	e := &ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.RetryAfter = time.Duration(ParseRetryAfterHeader(resp.Header.Get("Retry-After"))) * time.Second
	}
	return e
}

// ParseRetryAfterHeader parses a Retry-After header value into seconds.
// Returns 0 if the value is empty or not a valid integer.
func ParseRetryAfterHeader(val string) int {
	if val == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

var (
	// Groq and OpenAI name the exhausted limit by code.
	dailyCodes = []string{"TPD", "RPD"}
	// Lower-cased; "perday" matches Gemini quota ids such as
	// GenerateRequestsPerDayPerProjectPerModel.
	dailyPhrases = []string{"tokens per day", "requests per day", "perday"}
)

// Classify decides whether err is a rate limit, a daily quota, or anything else.
// A "rate_limit" marker makes it a rate limit, as does a 429 status for
// ProviderError or a "429" in the message of any other error. A per-day marker
// on top of that makes it a daily quota.
func Classify(err error) FailureClass {
	if err == nil {
		return ClassOther
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	limited := strings.Contains(lower, "rate_limit")
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		limited = limited || pErr.StatusCode == http.StatusTooManyRequests
	} else {
		limited = limited || strings.Contains(msg, "429")
	}
	if !limited {
		return ClassOther
	}
	for _, m := range dailyCodes {
		if strings.Contains(msg, m) {
			return ClassDailyQuota
		}
	}
	for _, m := range dailyPhrases {
		if strings.Contains(lower, m) {
			return ClassDailyQuota
		}
	}
	return ClassRateLimit
}

// retryAfter returns the server-suggested wait carried by err, if any.
func retryAfter(err error) time.Duration {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr.RetryAfter
	}
	return 0
}

// ExhaustedError is returned when every credential of a provider failed with a
// rate limit during one rotation. Class is ClassDailyQuota when any credential
// reported a per-day quota.
type ExhaustedError struct {
	Provider   string
	Class      FailureClass
	Attempts   int
	RetryAfter time.Duration
	Last       error
}

func (e *ExhaustedError) Error() string {
	name := displayName(e.Provider)
	if e.Class == ClassDailyQuota {
		return fmt.Sprintf(
			"All %s API keys have reached their DAILY token limit. "+
				"Please wait until the limit resets (typically at midnight UTC) or upgrade your plan. Last error: %v",
			name, e.Last)
	}
	return fmt.Sprintf(
		"All %s API keys failed due to rate limits. Please wait a minute and try again. Last error: %v",
		name, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{domain.ErrAllCredentialsExhausted, e.Last}
}

// Daily reports whether a per-day quota ended the rotation.
func (e *ExhaustedError) Daily() bool {
	return e.Class == ClassDailyQuota
}

var displayNames = map[string]string{
	"groq":       "Groq",
	"openai":     "OpenAI",
	"openrouter": "OpenRouter",
	"anthropic":  "Anthropic",
	"gemini":     "Gemini",
}

func displayName(provider string) string {
	if n, ok := displayNames[provider]; ok {
		return n
	}
	return provider
}
