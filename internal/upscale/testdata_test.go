package upscale

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"upscaler/internal/domain"
)

// 1x1 lossy WebP.
const webpFixture = "UklGRiIAAABXRUJQVlA4IBYAAAAwAQCdASoBAAEADsD+JaQAA3AAAAAA"

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 50}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func webpBytes(t *testing.T) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(webpFixture)
	if err != nil {
		t.Fatalf("decode webp fixture: %v", err)
	}
	return data
}

// padTo appends filler after the image data. Decoders stop at the end of
// the encoded image so dimensions are unaffected.
func padTo(data []byte, size int) []byte {
	if len(data) >= size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

type stubMediator struct {
	calls   atomic.Int32
	release chan struct{}
	ref     domain.ResultReference
	err     error
	panics  bool

	mu   sync.Mutex
	seen []domain.UpscaleOptions
}

func (s *stubMediator) SubmitForUpscale(ctx context.Context, asset domain.UploadedAsset, opts domain.UpscaleOptions) (domain.ResultReference, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, opts)
	s.mu.Unlock()
	if s.release != nil {
		<-s.release
	}
	if s.panics {
		panic("boom")
	}
	return s.ref, s.err
}

type countingObserver struct {
	mu         sync.Mutex
	validation []domain.ValidationReason
	gated      []string
	started    int
	finished   []domain.JobStatus
}

func (o *countingObserver) ValidationFailed(r domain.ValidationReason) {
	o.mu.Lock()
	o.validation = append(o.validation, r)
	o.mu.Unlock()
}

func (o *countingObserver) Gated(option string) {
	o.mu.Lock()
	o.gated = append(o.gated, option)
	o.mu.Unlock()
}

func (o *countingObserver) JobStarted(domain.UpscaleOptions) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *countingObserver) JobFinished(_ domain.UpscaleOptions, status domain.JobStatus, _ time.Duration) {
	o.mu.Lock()
	o.finished = append(o.finished, status)
	o.mu.Unlock()
}
