package gateway

import (
	"fmt"
	"strings"
)

// GatewayError describes a failed gateway call: transport failure, non-2xx
// status or a body that does not assert success.
type GatewayError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "gateway error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ImageFetchError reports that the image provider could not supply a payload
// for a media send.
type ImageFetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *ImageFetchError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("image fetch failed: %s", e.URL)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s: status=%d", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ImageFetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
