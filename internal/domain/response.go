package domain

import "time"

// ProviderResponse is the classified result of one engine invocation.
// Only Success carries text; the other outcomes carry their own detail.
type ProviderResponse struct {
	Outcome    Outcome
	Text       string
	RetryAfter time.Duration
	Reason     string
	Err        error
}

// Success wraps raw model output.
func Success(text string) ProviderResponse {
	return ProviderResponse{Outcome: OutcomeSuccess, Text: text}
}

// RateLimited signals a quota rejection; hint is zero when the provider gave none.
func RateLimited(hint time.Duration) ProviderResponse {
	return ProviderResponse{Outcome: OutcomeRateLimited, RetryAfter: hint}
}

// Refused signals a policy refusal.
func Refused(reason string) ProviderResponse {
	return ProviderResponse{Outcome: OutcomeRefused, Reason: reason}
}

// TransportError signals a network, timeout or server failure.
func TransportError(cause error) ProviderResponse {
	return ProviderResponse{Outcome: OutcomeTransportError, Err: cause}
}
