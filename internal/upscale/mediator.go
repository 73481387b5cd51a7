package upscale

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"upscaler/internal/domain"
)

// Inference is the external service that performs the upscale. It must issue
// at most one billable request per call.
type Inference interface {
	Upscale(ctx context.Context, image string, scale int, format domain.OutputFormat) (string, error)
}

// DefaultTimeout bounds one inference call.
const DefaultTimeout = 60 * time.Second

// Mediator turns a validated asset and frozen options into exactly one
// inference call and classifies the outcome.
type Mediator struct {
	inference Inference
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewMediator(inference Inference, timeout time.Duration, logger zerolog.Logger) *Mediator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mediator{inference: inference, timeout: timeout, logger: logger}
}

// SubmitForUpscale returns the artifact locator, or a *domain.TransportError
// or *domain.UpstreamError. Options are trusted to have passed entitlement.
func (m *Mediator) SubmitForUpscale(ctx context.Context, asset domain.UploadedAsset, opts domain.UpscaleOptions) (domain.ResultReference, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := time.Now()
	out, err := m.inference.Upscale(ctx, DataURI(asset.MIME, asset.Data), opts.Resolution.Factor(), opts.Format)
	elapsed := time.Since(started)
	if err != nil {
		classified := classify(err)
		m.logger.Warn().Err(classified).Dur("elapsed", elapsed).Str("resolution", string(opts.Resolution)).Msg("upscale failed")
		return "", classified
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", &domain.UpstreamError{Message: "empty output"}
	}
	m.logger.Info().Dur("elapsed", elapsed).Str("resolution", string(opts.Resolution)).Str("format", string(opts.Format)).Msg("upscale complete")
	return domain.ResultReference(out), nil
}

func classify(err error) error {
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}
	var transport *domain.TransportError
	if errors.As(err, &transport) {
		return transport
	}
	return &domain.TransportError{Err: err}
}

// DataURI encodes a payload for inline transport.
func DataURI(mime string, data []byte) string {
	var b strings.Builder
	b.Grow(len(mime) + 13 + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mime)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

const (
	msgTransport        = "Upscaling failed. Please try again."
	msgUpstreamFallback = "The upscaling service could not process this image."
)

// UserMessage renders err the way it is shown to the user.
func UserMessage(err error) string {
	var validation *domain.ValidationError
	var upstream *domain.UpstreamError
	var transport *domain.TransportError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &upstream):
		if msg := strings.TrimSpace(upstream.Message); msg != "" {
			return msg
		}
		return msgUpstreamFallback
	case errors.As(err, &transport):
		return msgTransport
	default:
		return msgTransport
	}
}

// ErrorKind names the error taxonomy bucket for API responses.
func ErrorKind(err error) string {
	var validation *domain.ValidationError
	var upstream *domain.UpstreamError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &upstream):
		if upstream.Rejected {
			return "rejected"
		}
		return "upstream"
	default:
		return "transport"
	}
}
