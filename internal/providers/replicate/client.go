package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"upscaler/internal/domain"
	"upscaler/internal/infra"
)

// ErrMissingAPIKey indicates that no token was configured or stored.
var ErrMissingAPIKey = errors.New("replicate: api token is required")

const (
	defaultBaseURL      = "https://api.replicate.com/v1"
	defaultVersion      = "42fed1c4974146d4d2414e2be2c5277c7fcf05fcc3a73abf41610695738c1d7b"
	defaultPollInterval = time.Second
	tokenProvider       = "replicate"
)

// Options configures the Replicate prediction client.
type Options struct {
	APIKey string
	// Credentials is consulted when APIKey is empty.
	Credentials  domain.CredentialStore
	BaseURL      string
	Version      string
	FaceEnhance  bool
	// FormatInputKey names the model input carrying the output format. Empty
	// means the model does not take one.
	FormatInputKey string
	PollInterval   time.Duration
	HTTPClient     *http.Client
	Logger         *infra.Logger
}

// Client creates upscale predictions and waits for their outcome.
type Client struct {
	apiKey         string
	credentials    domain.CredentialStore
	baseURL        string
	version        string
	faceEnhance    bool
	formatInputKey string
	pollInterval   time.Duration
	httpClient     *http.Client
	logger         *infra.Logger
}

type predictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = defaultVersion
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:         strings.TrimSpace(opts.APIKey),
		credentials:    opts.Credentials,
		baseURL:        baseURL,
		version:        version,
		faceEnhance:    opts.FaceEnhance,
		formatInputKey: strings.TrimSpace(opts.FormatInputKey),
		pollInterval:   poll,
		httpClient:     httpClient,
		logger:         logger,
	}
}

// Version returns the model version predictions are created with.
func (c *Client) Version() string {
	return c.version
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.credentials != nil {
		token, err := c.credentials.ProviderToken(ctx, tokenProvider)
		if err != nil {
			return "", fmt.Errorf("replicate: load stored token: %w", err)
		}
		if token != "" {
			return token, nil
		}
	}
	return "", ErrMissingAPIKey
}

// Upscale creates exactly one prediction and waits until it is terminal. Polls
// only read the prediction; they never create another one.
func (c *Client) Upscale(ctx context.Context, image string, scale int, format domain.OutputFormat) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	input := map[string]any{
		"image":        image,
		"scale":        scale,
		"face_enhance": c.faceEnhance,
	}
	if c.formatInputKey != "" && format != "" {
		input[c.formatInputKey] = string(format)
	}
	body, err := json.Marshal(predictionRequest{Version: c.version, Input: input})
	if err != nil {
		return "", fmt.Errorf("replicate: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")

	prediction, err := c.do(req, token)
	if err != nil {
		return "", err
	}
	c.logger.Debug().Str("prediction_id", prediction.Get("id").String()).Str("status", prediction.Get("status").String()).Msg("replicate: prediction created")

	for {
		status := prediction.Get("status").String()
		switch status {
		case "succeeded":
			out := outputURL(prediction.Get("output"))
			if out == "" {
				return "", &domain.UpstreamError{Message: "prediction succeeded without output"}
			}
			return out, nil
		case "failed", "canceled", "aborted":
			msg := strings.TrimSpace(prediction.Get("error").String())
			if msg == "" {
				msg = "prediction " + status
			}
			return "", &domain.UpstreamError{Message: msg}
		case "starting", "processing":
		default:
			return "", &domain.UpstreamError{Message: fmt.Sprintf("unexpected prediction status %q", status)}
		}

		getURL := prediction.Get("urls.get").String()
		if getURL == "" {
			id := prediction.Get("id").String()
			if id == "" {
				return "", &domain.UpstreamError{Message: "prediction has no id"}
			}
			getURL = c.baseURL + "/predictions/" + id
		}

		select {
		case <-ctx.Done():
			return "", &domain.TransportError{Err: ctx.Err()}
		case <-time.After(c.pollInterval):
		}

		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
		if err != nil {
			return "", fmt.Errorf("replicate: build poll request: %w", err)
		}
		prediction, err = c.do(pollReq, token)
		if err != nil {
			return "", err
		}
	}
}

func (c *Client) do(req *http.Request, token string) (gjson.Result, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, &domain.TransportError{Err: fmt.Errorf("replicate: http request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &domain.TransportError{Err: fmt.Errorf("replicate: read response: %w", err)}
	}

	if resp.StatusCode >= 300 {
		return gjson.Result{}, &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.StatusCode),
			Rejected:   resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest,
		}
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &domain.UpstreamError{StatusCode: resp.StatusCode, Message: "malformed prediction payload"}
	}
	return gjson.ParseBytes(raw), nil
}

func errorMessage(raw []byte, status int) string {
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"detail", "error", "title"} {
			if msg := strings.TrimSpace(gjson.GetBytes(raw, path).String()); msg != "" {
				return msg
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 300 {
		return text
	}
	return http.StatusText(status)
}

// outputURL accepts a bare string or an array of strings; the last array
// element is the final image for models that stream intermediate frames.
func outputURL(output gjson.Result) string {
	if output.IsArray() {
		items := output.Array()
		for i := len(items) - 1; i >= 0; i-- {
			if s := strings.TrimSpace(items[i].String()); s != "" {
				return s
			}
		}
		return ""
	}
	if output.Type == gjson.String {
		return strings.TrimSpace(output.String())
	}
	return ""
}
