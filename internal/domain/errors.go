package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnknownOption      = errors.New("unknown option")
	ErrNoAsset            = errors.New("no uploaded asset")
	ErrSubmissionInFlight = errors.New("submission already in flight")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrProviderFailure    = errors.New("provider failure")
)

// ValidationReason classifies a rejected upload.
type ValidationReason string

const (
	ReasonUnsupportedType ValidationReason = "unsupported_type"
	ReasonTooLarge        ValidationReason = "too_large"
	ReasonUndecodable     ValidationReason = "undecodable"
	ReasonEmpty           ValidationReason = "empty"
)

// ValidationError is raised locally before any remote call is made.
type ValidationError struct {
	Reason  ValidationReason
	Message string
	MIME    string
	Size    int64
}

func (e *ValidationError) Error() string {
	return e.Message
}

// GatingSignal asks the client to show the upgrade prompt. It is returned in
// place of a state change and is not a failure.
type GatingSignal struct {
	Option string `json:"option"`
	Value  string `json:"value"`
}

func (g *GatingSignal) Error() string {
	return fmt.Sprintf("%s %s requires a paid plan", g.Option, g.Value)
}

// TransportError means the request to the inference service did not complete.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "upscale transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError means the inference service answered with a failure.
type UpstreamError struct {
	StatusCode int
	Message    string
	// Rejected is set when the provider refused the input itself.
	Rejected bool
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upscale upstream: status %d: %s", e.StatusCode, e.Message)
	}
	return "upscale upstream: " + e.Message
}

func (e *UpstreamError) Unwrap() error { return ErrProviderFailure }
