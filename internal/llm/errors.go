package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// Kind categorizes analysis failures.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindQuota         Kind = "quota"
	KindMalformed     Kind = "malformed"
	KindMissingSource Kind = "missing_source"
	KindNotConfigured Kind = "not_configured"
	KindUnavailable   Kind = "unavailable"
	KindProvider      Kind = "provider"
)

var userMessages = map[Kind]string{
	KindAuth:          "Invalid or unauthorized API key. Check the analysis service credentials.",
	KindQuota:         "Quota exceeded (429). The analysis service is rate limiting requests; try again in a few minutes.",
	KindMalformed:     "The analysis service returned a response that could not be read.",
	KindMissingSource: "Image data not found. Upload the photo again.",
	KindNotConfigured: "API key not configured. Set LLM_API_KEY or configure a custom endpoint.",
	KindUnavailable:   "The analysis service is unreachable or did not reply in time.",
	KindProvider:      "Processing failed at the analysis service.",
}

// Error is returned by every Analyzer in this package.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var parts []string
	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("provider=%s", e.Provider))
	}
	parts = append(parts, fmt.Sprintf("kind=%s", e.Kind))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%s", e.Cause.Error()))
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// UserMessage is the text shown on the failed item.
func (e *Error) UserMessage() string {
	if msg, ok := userMessages[e.Kind]; ok {
		return msg
	}
	return userMessages[KindProvider]
}

func NewError(kind Kind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or KindProvider for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProvider
}

func IsQuota(err error) bool {
	return err != nil && KindOf(err) == KindQuota
}

// UserMessage returns the user-facing text for any analysis error.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	if err != nil && statusInMessage(err.Error()) == http.StatusTooManyRequests {
		return userMessages[KindQuota]
	}
	return userMessages[KindProvider]
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindQuota
	case code >= 500:
		return KindUnavailable
	default:
		return KindProvider
	}
}

// Classify wraps a raw SDK or transport error into an *Error.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	out := &Error{Kind: KindProvider, Provider: provider, Cause: err}

	var gErr *googleapi.Error
	var oaAPI *openai.APIError
	var oaReq *openai.RequestError
	var anAPI *anthropic.APIError
	var anReq *anthropic.RequestError
	var netErr net.Error

	switch {
	case errors.As(err, &gErr):
		out.StatusCode = gErr.Code
		out.Kind = kindForStatus(gErr.Code)
	case errors.As(err, &oaAPI):
		out.StatusCode = oaAPI.HTTPStatusCode
		out.Kind = kindForStatus(oaAPI.HTTPStatusCode)
	case errors.As(err, &oaReq):
		out.StatusCode = oaReq.HTTPStatusCode
		out.Kind = kindForStatus(oaReq.HTTPStatusCode)
	case errors.As(err, &anAPI):
		switch {
		case anAPI.IsRateLimitErr():
			out.Kind = KindQuota
		case anAPI.IsAuthenticationErr() || anAPI.IsPermissionErr():
			out.Kind = KindAuth
		case anAPI.IsOverloadedErr() || anAPI.IsApiErr():
			out.Kind = KindUnavailable
		}
	case errors.As(err, &anReq):
		out.StatusCode = anReq.StatusCode
		out.Kind = kindForStatus(anReq.StatusCode)
	case errors.As(err, &netErr):
		out.Kind = KindUnavailable
	}

	if out.Kind == KindProvider {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "RESOURCE_EXHAUSTED"):
			out.Kind = KindQuota
		case strings.Contains(msg, "API_KEY_INVALID"), strings.Contains(msg, "UNAUTHENTICATED"), strings.Contains(msg, "PERMISSION_DENIED"):
			out.Kind = KindAuth
		default:
			if code := statusInMessage(msg); code != 0 {
				out.StatusCode = code
				out.Kind = kindForStatus(code)
			}
		}
	}
	return out
}

// statusPattern finds an HTTP status quoted as "status 429", "status code: 401"
// or "Error 403"; bare digits elsewhere in a message are ignored.
var statusPattern = regexp.MustCompile(`(?i)\b(?:status(?:\s+code)?|error|http)[\s:=]+([1-5]\d{2})\b`)

func statusInMessage(msg string) int {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}
