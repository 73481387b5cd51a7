package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"upscaler/internal/domain"
	"upscaler/internal/upscale"
)

type uploadResponse struct {
	URL    string `json:"url"`
	Key    string `json:"key"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
	MIME   string `json:"mime"`
}

type uploadDeleteRequest struct {
	URL string `json:"url"`
}

// UploadCreate stores a validated image for the signed-in user and returns
// its public URL.
func (a *App) UploadCreate(w http.ResponseWriter, r *http.Request) {
	if a.Blobs == nil {
		a.error(w, http.StatusServiceUnavailable, "storage_disabled", "storage is not configured")
		return
	}
	userID := a.currentUserID(r)
	up, err := readUpload(r, "file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field \"file\" is required")
		return
	}
	asset, err := upscale.Validate(up)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			a.json(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "validation_failed",
				"reason":  verr.Reason,
				"message": verr.Message,
			})
			return
		}
		a.fail(w, r, err)
		return
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(asset.Filename)), ".")
	if format, err := domain.ParseOutputFormat(ext); err == nil {
		ext = format.Extension()
	} else {
		ext = extensionForMIME(asset.MIME)
	}
	key := path.Join("uploads", userID, uuid.NewString()+ext)
	obj, err := a.Blobs.Put(r.Context(), key, asset.Data, asset.MIME)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, uploadResponse{
		URL:    obj.URL,
		Key:    obj.Key,
		Width:  asset.Width,
		Height: asset.Height,
		Size:   asset.Size,
		MIME:   asset.MIME,
	})
}

// UploadDelete removes one of the caller's uploads by URL.
func (a *App) UploadDelete(w http.ResponseWriter, r *http.Request) {
	if a.Blobs == nil {
		a.error(w, http.StatusServiceUnavailable, "storage_disabled", "storage is not configured")
		return
	}
	var req uploadDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "url required")
		return
	}
	key, ok := a.Blobs.KeyFromURL(strings.TrimSpace(req.URL))
	if !ok || !strings.HasPrefix(key, path.Join("uploads", a.currentUserID(r))+"/") {
		a.error(w, http.StatusNotFound, "not_found", "upload not found")
		return
	}
	if err := a.Blobs.Delete(r.Context(), key); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func extensionForMIME(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
