package upscale

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"upscaler/internal/domain"
)

// MaxUploadBytes is the largest accepted source image.
const MaxUploadBytes = 10 << 20

var acceptedMIME = []string{"image/jpeg", "image/png", "image/webp"}

const msgUnsupported = "Unsupported format. Please upload JPG, PNG, or WEBP."

// Validate checks an upload against the size ceiling and the MIME allow-list
// and decodes its header to learn the pixel dimensions. The type is sniffed
// from the content; the client's declared type is only used in messages.
func Validate(up domain.Upload) (*domain.UploadedAsset, error) {
	size := int64(len(up.Data))
	if size == 0 {
		return nil, &domain.ValidationError{Reason: domain.ReasonEmpty, Message: "The selected file is empty.", MIME: up.DeclaredMIME}
	}
	if size > MaxUploadBytes {
		return nil, &domain.ValidationError{
			Reason:  domain.ReasonTooLarge,
			Message: fmt.Sprintf("File too large. Maximum size is %s.", humanize.IBytes(MaxUploadBytes)),
			MIME:    up.DeclaredMIME,
			Size:    size,
		}
	}

	detected := mimetype.Detect(up.Data)
	mime := ""
	for _, accepted := range acceptedMIME {
		if detected.Is(accepted) {
			mime = accepted
			break
		}
	}
	if mime == "" {
		return nil, &domain.ValidationError{Reason: domain.ReasonUnsupportedType, Message: msgUnsupported, MIME: detected.String(), Size: size}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(up.Data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &domain.ValidationError{
			Reason:  domain.ReasonUndecodable,
			Message: "The image could not be read. Please try another file.",
			MIME:    mime,
			Size:    size,
		}
	}

	return &domain.UploadedAsset{
		Data:     up.Data,
		Filename: up.Filename,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Size:     size,
		MIME:     mime,
	}, nil
}
