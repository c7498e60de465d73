package inference

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tablenorm/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"nil", nil, ClassOther},
		{"plain", errors.New("connection reset"), ClassOther},
		{"status 429", &ProviderError{Provider: "groq", StatusCode: http.StatusTooManyRequests, Body: "slow down"}, ClassRateLimit},
		{"rate_limit marker", errors.New("Error code: rate_limit_exceeded"), ClassRateLimit},
		{"RATE_LIMIT uppercase", errors.New("RATE_LIMIT hit"), ClassRateLimit},
		{"429 in text", errors.New("HTTP 429 Too Many Requests"), ClassRateLimit},
		{"TPD", errors.New("rate_limit_exceeded: Limit on tokens per day (TPD)"), ClassDailyQuota},
		{"RPD", &ProviderError{StatusCode: 429, Body: "Limit RPD reached"}, ClassDailyQuota},
		{"requests per day", errors.New("429: requests per day exceeded"), ClassDailyQuota},
		{"daily marker without rate limit", errors.New("tokens per day accounting failed"), ClassOther},
		{"wrapped", fmt.Errorf("calling: %w", &ProviderError{StatusCode: 429, Body: "x"}), ClassRateLimit},
		{"server error", &ProviderError{StatusCode: 500, Body: "internal"}, ClassOther},
		{"gemini daily quota", &ProviderError{Provider: "gemini", StatusCode: http.StatusTooManyRequests, Body: `{"error": {"code": 429, "status": "RESOURCE_EXHAUSTED", "details": [{"violations": [{"quotaId": "GenerateRequestsPerDayPerProjectPerModel-FreeTier"}]}]}}`}, ClassDailyQuota},
		{"gemini per-minute quota", &ProviderError{Provider: "gemini", StatusCode: http.StatusTooManyRequests, Body: `{"error": {"status": "RESOURCE_EXHAUSTED", "details": [{"violations": [{"quotaId": "GenerateRequestsPerMinutePerProjectPerModel-FreeTier"}]}]}}`}, ClassRateLimit},
		{"429 inside a rejected request body", &ProviderError{Provider: "openai", StatusCode: http.StatusBadRequest, Body: `{"error": "invalid model", "request_id": "req_4291ab"}`}, ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 0, ParseRetryAfterHeader(""))
	assert.Equal(t, 30, ParseRetryAfterHeader("30"))
	assert.Equal(t, 0, ParseRetryAfterHeader("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Equal(t, 0, ParseRetryAfterHeader("-5"))
}

func TestExhaustedError_Messages(t *testing.T) {
	last := errors.New("last")
	daily := &ExhaustedError{Provider: "groq", Class: ClassDailyQuota, Last: last}
	assert.Contains(t, daily.Error(), "All Groq API keys have reached their DAILY token limit")
	assert.True(t, daily.Daily())
	assert.ErrorIs(t, daily, domain.ErrAllCredentialsExhausted)
	assert.ErrorIs(t, daily, last)

	transient := &ExhaustedError{Provider: "openrouter", Class: ClassRateLimit, Last: last}
	assert.Equal(t,
		"All OpenRouter API keys failed due to rate limits. Please wait a minute and try again. Last error: last",
		transient.Error())
	assert.False(t, transient.Daily())
}

func TestRetryPolicy_Wait(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, Delay: 2 * time.Second, Backoff: 3}
	assert.Equal(t, 2*time.Second, p.wait(1, 0))
	assert.Equal(t, 6*time.Second, p.wait(2, 0))
	assert.Equal(t, 18*time.Second, p.wait(3, 10*time.Second))
	assert.Equal(t, time.Minute, p.wait(1, time.Minute))
	assert.Equal(t, 1, RetryPolicy{}.attempts())
}
