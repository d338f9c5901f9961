package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms/openai"
)

// Kind is the category of a completion failure.
type Kind string

const (
	KindMissingCredentials Kind = "missing-credentials"
	KindNetwork            Kind = "network-error"
	KindRateLimited        Kind = "rate-limited"
	KindMalformed          Kind = "malformed-response"
	KindUpstream           Kind = "upstream-error"
	KindCanceled           Kind = "canceled"
)

func (k Kind) String() string {
	return string(k)
}

var ErrMissingCredentials = errors.New("completion API key is not configured")

// Failure is the single error type returned across the completion boundary.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail wraps err with an explicit kind.
func Fail(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// KindOf reports the failure kind of err, classifying errors that were not produced as *Failure.
// A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return classify(err)
}

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindRateLimited
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, openai.ErrMissingToken):
		return KindMissingCredentials
	case errors.Is(err, openai.ErrEmptyResponse):
		return KindMalformed
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetwork
	}

	// Provider clients only surface HTTP status through the message text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.HasSuffix(msg, ": eof"), strings.Contains(msg, "unexpected eof"):
		return KindNetwork
	case strings.Contains(msg, "unmarshal"), strings.Contains(msg, "invalid character"), strings.Contains(msg, "unexpected end of json"):
		return KindMalformed
	}
	return KindUpstream
}
