package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"upscaler/internal/domain"
	"upscaler/internal/history"
	"upscaler/internal/middleware"
	"upscaler/internal/upscale"
)

const recordTimeout = 3 * time.Minute

var errMissingFile = errors.New("missing file field")

type optionsRequest struct {
	Resolution string `json:"resolution"`
	Format     string `json:"format"`
}

type optionChoice struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Pro   bool   `json:"pro"`
}

type optionsResponse struct {
	Resolutions []optionChoice        `json:"resolutions"`
	Formats     []optionChoice        `json:"formats"`
	Defaults    domain.UpscaleOptions `json:"defaults"`
	MaxBytes    int64                 `json:"max_bytes"`
	Accepted    []string              `json:"accepted"`
}

// UpscaleSnapshot returns the caller's current upscale state.
func (a *App) UpscaleSnapshot(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.machine(r).Snapshot())
}

// UpscaleSelectFile accepts a multipart "image" upload. A rejected file still
// answers with the error snapshot so clients can render the message.
func (a *App) UpscaleSelectFile(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r, "image")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field \"image\" is required")
		return
	}
	snap, err := a.machine(r).SelectFile(up)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			a.json(w, http.StatusUnprocessableEntity, snap)
			return
		}
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, snap)
}

// UpscaleChooseOptions applies a resolution and/or format. A gated choice is
// not an error: the snapshot carries the paywall and the options are unchanged.
func (a *App) UpscaleChooseOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	opts := domain.UpscaleOptions{}
	if v := strings.TrimSpace(req.Resolution); v != "" {
		res, err := domain.ParseResolution(v)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		opts.Resolution = res
	}
	if v := strings.TrimSpace(req.Format); v != "" {
		format, err := domain.ParseOutputFormat(v)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		opts.Format = format
	}
	m := a.machine(r)
	if _, err := m.ChooseOptions(opts); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, m.Snapshot())
}

// UpscaleOptions lists every option with whether it needs a paid plan.
func (a *App) UpscaleOptions(w http.ResponseWriter, r *http.Request) {
	ent := a.entitlement()
	resp := optionsResponse{
		Defaults: domain.DefaultOptions(),
		MaxBytes: upscale.MaxUploadBytes,
		Accepted: []string{"image/jpeg", "image/png", "image/webp"},
	}
	for _, res := range domain.Resolutions {
		resp.Resolutions = append(resp.Resolutions, optionChoice{Value: string(res), Label: res.Label(), Pro: !ent.AllowsResolution(res)})
	}
	for _, f := range domain.OutputFormats {
		resp.Formats = append(resp.Formats, optionChoice{Value: string(f), Label: strings.ToUpper(string(f)), Pro: !ent.AllowsFormat(f)})
	}
	a.json(w, http.StatusOK, resp)
}

// UpscaleSubmit starts a job. With ?wait=true the response is held until the
// job is terminal or WaitTimeout passes.
func (a *App) UpscaleSubmit(w http.ResponseWriter, r *http.Request) {
	m := a.machine(r)
	identity := middleware.IdentityFromContext(r.Context())
	logger := *a.log(r)

	var onDone func(domain.UpscaleJob)
	if a.History != nil && identity != nil {
		onDone = func(job domain.UpscaleJob) {
			ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
			defer cancel()
			if err := a.History.Record(ctx, identity, job); err != nil {
				logger.Error().Err(err).Str("job_id", job.ID).Msg("history record failed")
			}
		}
	}

	if _, err := m.Submit(r.Context(), onDone); err != nil {
		a.fail(w, r, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		timeout := a.WaitTimeout
		if timeout <= 0 {
			timeout = upscale.DefaultTimeout + 5*time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		snap, err := m.Wait(ctx)
		if err != nil {
			a.json(w, http.StatusAccepted, snap)
			return
		}
		a.json(w, http.StatusOK, snap)
		return
	}
	a.json(w, http.StatusAccepted, m.Snapshot())
}

func (a *App) UpscaleReset(w http.ResponseWriter, r *http.Request) {
	m := a.machine(r)
	if err := m.Reset(); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, m.Snapshot())
}

func (a *App) UpscaleDismissPaywall(w http.ResponseWriter, r *http.Request) {
	m := a.machine(r)
	m.DismissPaywall()
	a.json(w, http.StatusOK, m.Snapshot())
}

// UpscaleDownload redirects to the finished artifact.
func (a *App) UpscaleDownload(w http.ResponseWriter, r *http.Request) {
	snap := a.machine(r).Snapshot()
	if snap.State != domain.StateComplete || snap.Job == nil || snap.Job.ResultRef == "" {
		a.error(w, http.StatusConflict, "not_complete", "no finished result to download")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+history.Filename(snap.Job.ID, snap.Job.ResultRef, snap.Job.Options.Format))
	http.Redirect(w, r, string(snap.Job.ResultRef), http.StatusFound)
}

// Preview serves the local preview of an uploaded asset.
func (a *App) Preview(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	data, mime, ok := a.Previews.Get(ref)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "preview not found")
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// readUpload streams the named multipart file, keeping at most one byte past
// the upload limit so oversize files still reach validation.
func readUpload(r *http.Request, field string) (domain.Upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return domain.Upload{}, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return domain.Upload{}, errMissingFile
		}
		if err != nil {
			return domain.Upload{}, err
		}
		if part.FormName() != field {
			_ = part.Close()
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, upscale.MaxUploadBytes+1))
		_ = part.Close()
		if err != nil {
			return domain.Upload{}, err
		}
		return domain.Upload{
			Filename:     part.FileName(),
			DeclaredMIME: part.Header.Get("Content-Type"),
			Data:         data,
		}, nil
	}
}
