package embedder

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// quota markers that will not clear by waiting a few seconds
var permanentQuotaMarkers = []string{
	"insufficient_quota",
	"tokens per day",
	"TPD",
	"billing",
}

// classifyStatus maps a non-200 provider response onto the provider error
// taxonomy. body is the (possibly truncated) response body.
func classifyStatus(status int, header http.Header, body string) error {
	cause := fmt.Errorf("api error %d: %s", status, strings.TrimSpace(body))

	switch {
	case status == http.StatusTooManyRequests:
		for _, marker := range permanentQuotaMarkers {
			if strings.Contains(body, marker) {
				return &types.ProviderFatalError{StatusCode: status, Err: cause}
			}
		}
		return &types.RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After"), time.Now()), Err: cause}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &types.ProviderFatalError{StatusCode: status, Err: cause}
	case status == http.StatusRequestTimeout || status >= 500:
		return &types.ProviderTransientError{StatusCode: status, Err: cause}
	default:
		// Other 4xx responses reject this payload only; retrying would
		// send the same payload again.
		return &types.ProviderRequestError{StatusCode: status, Err: cause}
	}
}

// parseRetryAfter accepts either delay-seconds or an HTTP date.
// Unknown or missing values yield zero, letting the backoff policy decide.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
