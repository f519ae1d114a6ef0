package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ImpactScanner/internal/domain"
)

const errorBodyLimit = 1024

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns.
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s"]+)(\d+(?:\.\d+)?)\s*s`)

// retryAfter reads a Retry-After header in either delta-seconds or HTTP-date form.
func retryAfter(h http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds > 0 {
		return secondsToDuration(seconds)
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// retryDelayFromText parses the provider-suggested delay out of an error message.
func retryDelayFromText(msg string) time.Duration {
	matches := retryDelayRegex.FindStringSubmatch(msg)
	if len(matches) < 2 {
		return 0
	}
	seconds, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0
	}
	return secondsToDuration(seconds)
}

// maxHintSeconds is the largest seconds value representable as a Duration.
const maxHintSeconds = float64(math.MaxInt64) / float64(time.Second)

// secondsToDuration converts without overflowing; callers cap the wait later.
func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	if seconds >= maxHintSeconds {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}

// transportFailure classifies an error returned before any response arrived.
func transportFailure(engineID string, err error) domain.ProviderResponse {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TransportError(fmt.Errorf("%s: timed out: %w", engineID, err))
	}
	return domain.TransportError(fmt.Errorf("%s: %w", engineID, err))
}

func readErrorBody(r io.Reader) string {
	payload, _ := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	return strings.TrimSpace(string(payload))
}

func timeoutOrDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
