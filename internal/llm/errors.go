package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"

	"github.com/kalambet/redactor/internal/proxy"
)

// Failure classifies why an invocation failed.
type Failure int

const (
	FailureUnknown Failure = iota
	FailureAuth
	FailureRateLimit
	FailureModelNotFound
	FailureTimeout
)

func (f Failure) String() string {
	switch f {
	case FailureAuth:
		return "auth"
	case FailureRateLimit:
		return "rate_limit"
	case FailureModelNotFound:
		return "model_not_found"
	case FailureTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// statusOf digs the HTTP status out of the backend error types.
func statusOf(err error) int {
	var oaAPI *openai.APIError
	if errors.As(err, &oaAPI) {
		return oaAPI.HTTPStatusCode
	}
	var oaReq *openai.RequestError
	if errors.As(err, &oaReq) {
		return oaReq.HTTPStatusCode
	}
	var anth *anthropic.Error
	if errors.As(err, &anth) {
		return anth.StatusCode
	}
	var ps *proxy.StatusError
	if errors.As(err, &ps) {
		return ps.Status
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// Classify maps an invocation error to a Failure.
func Classify(err error) Failure {
	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}

	switch statusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureAuth
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return FailureRateLimit
	case http.StatusNotFound:
		return FailureModelNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "api key", "api_key", "unauthorized", "authentication", "permission denied"):
		return FailureAuth
	case containsAny(msg, "quota", "rate limit", "rate_limit", "resource_exhausted", "insufficient_quota"):
		return FailureRateLimit
	case containsAny(msg, "model not found", "does not exist", "not_found", "unknown model") ||
		(strings.Contains(msg, "model") && strings.Contains(msg, "not found")):
		return FailureModelNotFound
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return FailureTimeout
	}
	return FailureUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
