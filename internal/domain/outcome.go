package domain

import "time"

// Outcome classifies a single engine attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeRefused
	OutcomeMalformed
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRefused:
		return "refused"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// EngineAttempt records one engine call for diagnostics. It is never persisted.
type EngineAttempt struct {
	EngineID string
	Outcome  Outcome
	RawText  string
	Err      error
	Duration time.Duration
}
