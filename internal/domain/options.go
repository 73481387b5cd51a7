package domain

import (
	"fmt"
	"strings"
)

// Resolution enumerates the supported upscale factors.
type Resolution string

const (
	Resolution2x Resolution = "2x"
	Resolution4x Resolution = "4x"
	Resolution8x Resolution = "8x"
)

// Resolutions lists every resolution in display order.
var Resolutions = []Resolution{Resolution2x, Resolution4x, Resolution8x}

// Factor returns the integer scale sent to the inference service.
func (r Resolution) Factor() int {
	switch r {
	case Resolution4x:
		return 4
	case Resolution8x:
		return 8
	default:
		return 2
	}
}

// Label is the marketing label shown next to the factor.
func (r Resolution) Label() string {
	switch r {
	case Resolution4x:
		return "4K"
	case Resolution8x:
		return "Ultra HD"
	default:
		return "2K"
	}
}

// Valid reports whether r is one of the known resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case Resolution2x, Resolution4x, Resolution8x:
		return true
	}
	return false
}

// ParseResolution accepts "2x", "2X", "2" and similar spellings.
func ParseResolution(s string) (Resolution, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v != "" && !strings.HasSuffix(v, "x") {
		v += "x"
	}
	r := Resolution(v)
	if !r.Valid() {
		return "", fmt.Errorf("%w: resolution %q", ErrUnknownOption, s)
	}
	return r, nil
}

// OutputFormat enumerates the artifact formats a user can request.
type OutputFormat string

const (
	FormatJPG  OutputFormat = "jpg"
	FormatPNG  OutputFormat = "png"
	FormatWEBP OutputFormat = "webp"
	FormatTIFF OutputFormat = "tiff"
)

// OutputFormats lists every format in display order.
var OutputFormats = []OutputFormat{FormatJPG, FormatPNG, FormatWEBP, FormatTIFF}

// Valid reports whether f is one of the known formats.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatJPG, FormatPNG, FormatWEBP, FormatTIFF:
		return true
	}
	return false
}

// MIME returns the content type of the format.
func (f OutputFormat) MIME() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWEBP:
		return "image/webp"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

// Extension returns the file extension including the leading dot.
func (f OutputFormat) Extension() string {
	if !f.Valid() {
		return ".jpg"
	}
	return "." + string(f)
}

// ParseOutputFormat accepts the format names case-insensitively; "jpeg" and "tif" are aliases.
func ParseOutputFormat(s string) (OutputFormat, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "jpeg":
		v = "jpg"
	case "tif":
		v = "tiff"
	}
	f := OutputFormat(v)
	if !f.Valid() {
		return "", fmt.Errorf("%w: format %q", ErrUnknownOption, s)
	}
	return f, nil
}

// UpscaleOptions is the user's choice for one attempt.
type UpscaleOptions struct {
	Resolution Resolution   `json:"resolution"`
	Format     OutputFormat `json:"format"`
}

// DefaultOptions are the options every new asset starts with.
func DefaultOptions() UpscaleOptions {
	return UpscaleOptions{Resolution: Resolution2x, Format: FormatJPG}
}

// Entitlement decides whether an option is available without upgrading.
type Entitlement interface {
	AllowsResolution(Resolution) bool
	AllowsFormat(OutputFormat) bool
}

// FreeTier is the static allow-list applied to every user: 2x output in
// jpg, png or webp.
type FreeTier struct{}

func (FreeTier) AllowsResolution(r Resolution) bool {
	return r == Resolution2x
}

func (FreeTier) AllowsFormat(f OutputFormat) bool {
	switch f {
	case FormatJPG, FormatPNG, FormatWEBP:
		return true
	}
	return false
}

var _ Entitlement = FreeTier{}
