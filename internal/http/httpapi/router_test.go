package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscaler/internal/domain"
	"upscaler/internal/history"
	"upscaler/internal/http/handlers"
	"upscaler/internal/metrics"
	mw "upscaler/internal/middleware"
	"upscaler/internal/session"
	"upscaler/internal/storage"
	"upscaler/internal/upscale"
)

const jwtSecret = "router-test-secret-router-test-secret"

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	ref     domain.ResultReference
	err     error
	release chan struct{}
}

func (f *fakeSubmitter) SubmitForUpscale(ctx context.Context, asset domain.UploadedAsset, opts domain.UpscaleOptions) (domain.ResultReference, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.ref, f.err
}

func (f *fakeSubmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memRepo struct {
	mu      sync.Mutex
	records []domain.JobRecord
}

func (r *memRepo) Insert(ctx context.Context, rec *domain.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *memRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.JobRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRepo) Stats(ctx context.Context, userID string, since time.Time) (*domain.HistoryStats, error) {
	recs, _ := r.ListByUser(ctx, userID, 0)
	return &domain.HistoryStats{Total: len(recs), ThisMonth: len(recs), Plan: domain.PlanFree, Credits: domain.CreditsFree}, nil
}

func (r *memRepo) Delete(ctx context.Context, userID, jobID string) (*domain.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records {
		if rec.ID == jobID && rec.UserID == userID {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return &rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) ClaimPendingMirrors(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	return nil, nil
}

func (r *memRepo) MarkMirror(ctx context.Context, jobID string, status domain.MirrorStatus, resultURL, storageKey string) error {
	return nil
}

func (r *memRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type env struct {
	handler  http.Handler
	sub      *fakeSubmitter
	repo     *memRepo
	metrics  *metrics.Metrics
	artifact string
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 3))))
	return buf.Bytes()
}

func newEnv(t *testing.T) *env {
	t.Helper()
	artifact := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngImage(t))
	}))
	t.Cleanup(artifact.Close)

	sub := &fakeSubmitter{ref: domain.ResultReference(artifact.URL + "/out.png")}
	previews := upscale.NewMemoryPreviews()
	mx := metrics.New()
	registry := session.NewRegistry(16, time.Hour, func(id string) *upscale.Machine {
		return upscale.NewMachine(upscale.Config{Mediator: sub, Previews: previews, Observer: mx, Logger: zerolog.Nop()})
	})
	blobs, err := storage.NewFileStore(t.TempDir(), "http://cdn.test/static")
	require.NoError(t, err)
	repo := &memRepo{}

	app := &handlers.App{
		Logger:      zerolog.Nop(),
		Sessions:    registry,
		Previews:    previews,
		History:     history.NewService(history.Options{Repo: repo, Blobs: blobs, Logger: zerolog.Nop(), OnMirror: mx.MirrorResult}),
		Blobs:       blobs,
		WaitTimeout: 5 * time.Second,
	}
	h := NewRouter(app, Options{
		Logger:          zerolog.Nop(),
		Metrics:         mx,
		Verifier:        mw.NewVerifier(jwtSecret, ""),
		RateLimitPerMin: 1000,
		SessionTTL:      time.Hour,
	})
	return &env{handler: h, sub: sub, repo: repo, metrics: mx, artifact: artifact.URL}
}

type call struct {
	method  string
	path    string
	body    io.Reader
	ctype   string
	session string
	token   string
}

func (e *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, c.body)
	if c.ctype != "" {
		req.Header.Set("Content-Type", c.ctype)
	}
	if c.session != "" {
		req.Header.Set(mw.SessionHeader, c.session)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func multipartFile(t *testing.T, field, name string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	fw, err := mpw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mpw.Close())
	return &buf, mpw.FormDataContentType()
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) upscale.Snapshot {
	t.Helper()
	var snap upscale.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap), rec.Body.String())
	return snap
}

func (e *env) upload(t *testing.T, sid string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartFile(t, "image", "photo.png", data)
	return e.do(t, call{method: http.MethodPost, path: "/v1/upscale/file", body: body, ctype: ctype, session: sid})
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := mw.SignToken(jwtSecret, mw.SupabaseClaims{
		Email: userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return tok
}

func TestHappyPathThroughRouter(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()

	rec := e.upload(t, sid, pngImage(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, domain.StateReady, snap.State)
	require.NotNil(t, snap.Asset)
	assert.Equal(t, 4, snap.Asset.Width)
	assert.Equal(t, 3, snap.Asset.Height)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/previews/" + snap.Asset.PreviewRef})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = e.do(t, call{method: http.MethodPut, path: "/v1/upscale/options", body: strings.NewReader(`{"format":"PNG"}`), ctype: "application/json", session: sid})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.FormatPNG, decodeSnapshot(t, rec).Options.Format)

	rec = e.do(t, call{method: http.MethodPost, path: "/v1/upscale/submit?wait=true", session: sid})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decodeSnapshot(t, rec)
	assert.Equal(t, domain.StateComplete, snap.State)
	require.NotNil(t, snap.Job)
	assert.Equal(t, domain.JobStatusComplete, snap.Job.Status)
	assert.Equal(t, domain.UpscaleOptions{Resolution: domain.Resolution2x, Format: domain.FormatPNG}, snap.Job.Options)
	assert.Equal(t, 1, e.sub.Calls())

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/upscale/download", session: sid})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, e.artifact+"/out.png", rec.Header().Get("Location"))

	rec = e.do(t, call{method: http.MethodPost, path: "/v1/upscale/reset", session: sid})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StateIdle, decodeSnapshot(t, rec).State)
}

func TestGatedChoiceRaisesPaywall(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()
	require.Equal(t, http.StatusOK, e.upload(t, sid, pngImage(t)).Code)

	rec := e.do(t, call{method: http.MethodPut, path: "/v1/upscale/options", body: strings.NewReader(`{"resolution":"4x"}`), ctype: "application/json", session: sid})
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeSnapshot(t, rec)
	require.NotNil(t, snap.Paywall)
	assert.Equal(t, domain.GatingSignal{Option: "resolution", Value: "4x"}, *snap.Paywall)
	assert.Equal(t, domain.Resolution2x, snap.Options.Resolution)

	rec = e.do(t, call{method: http.MethodPost, path: "/v1/upscale/paywall/dismiss", session: sid})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeSnapshot(t, rec).Paywall)
	assert.Equal(t, 0, e.sub.Calls())
}

func TestUnknownOptionRejected(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()
	require.Equal(t, http.StatusOK, e.upload(t, sid, pngImage(t)).Code)

	rec := e.do(t, call{method: http.MethodPut, path: "/v1/upscale/options", body: strings.NewReader(`{"resolution":"3x"}`), ctype: "application/json", session: sid})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_option")
}

func TestRejectedUploadShowsErrorState(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()

	rec := e.upload(t, sid, []byte("%PDF-1.4 not an image"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, domain.StateError, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, domain.ReasonUnsupportedType, snap.Error.Reason)
	assert.Equal(t, "Unsupported format. Please upload JPG, PNG, or WEBP.", snap.Error.Message)

	rec = e.do(t, call{method: http.MethodPost, path: "/v1/upscale/submit", session: sid})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, e.sub.Calls())
}

func TestOversizeUploadRejected(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()
	data := append(pngImage(t), make([]byte, upscale.MaxUploadBytes)...)

	rec := e.upload(t, sid, data)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.ReasonTooLarge, decodeSnapshot(t, rec).Error.Reason)
}

func TestMissingUploadField(t *testing.T) {
	e := newEnv(t)
	body, ctype := multipartFile(t, "other", "x.png", pngImage(t))
	rec := e.do(t, call{method: http.MethodPost, path: "/v1/upscale/file", body: body, ctype: ctype, session: session.NewID()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDoubleSubmitConflicts(t *testing.T) {
	e := newEnv(t)
	e.sub.release = make(chan struct{})
	sid := session.NewID()
	require.Equal(t, http.StatusOK, e.upload(t, sid, pngImage(t)).Code)

	rec := e.do(t, call{method: http.MethodPost, path: "/v1/upscale/submit", session: sid})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.StateProcessing, decodeSnapshot(t, rec).State)

	rec = e.do(t, call{method: http.MethodPost, path: "/v1/upscale/submit", session: sid})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "submission_in_flight")

	rec = e.do(t, call{method: http.MethodPost, path: "/v1/upscale/reset", session: sid})
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(e.sub.release)
	require.Eventually(t, func() bool {
		rec := e.do(t, call{method: http.MethodGet, path: "/v1/upscale", session: sid})
		return decodeSnapshot(t, rec).State == domain.StateComplete
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, e.sub.Calls())
}

func TestSessionsAreIsolated(t *testing.T) {
	e := newEnv(t)
	a, b := session.NewID(), session.NewID()
	require.Equal(t, http.StatusOK, e.upload(t, a, pngImage(t)).Code)

	rec := e.do(t, call{method: http.MethodGet, path: "/v1/upscale", session: b})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StateIdle, decodeSnapshot(t, rec).State)
	assert.Equal(t, b, rec.Header().Get(mw.SessionHeader))
}

func TestOptionsListing(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, call{method: http.MethodGet, path: "/v1/upscale/options"})
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Resolutions []struct {
			Value string `json:"value"`
			Label string `json:"label"`
			Pro   bool   `json:"pro"`
		} `json:"resolutions"`
		Formats []struct {
			Value string `json:"value"`
			Pro   bool   `json:"pro"`
		} `json:"formats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Resolutions, 3)
	assert.False(t, payload.Resolutions[0].Pro)
	assert.Equal(t, "2K", payload.Resolutions[0].Label)
	assert.True(t, payload.Resolutions[1].Pro)
	assert.True(t, payload.Resolutions[2].Pro)
	pro := map[string]bool{}
	for _, f := range payload.Formats {
		pro[f.Value] = f.Pro
	}
	assert.Equal(t, map[string]bool{"jpg": false, "png": false, "webp": false, "tiff": true}, pro)
}

func TestHistoryRequiresSignIn(t *testing.T) {
	e := newEnv(t)
	for _, c := range []call{
		{method: http.MethodGet, path: "/v1/jobs"},
		{method: http.MethodGet, path: "/v1/jobs/archive"},
		{method: http.MethodDelete, path: "/v1/jobs/abc"},
		{method: http.MethodDelete, path: "/v1/uploads", body: strings.NewReader(`{"url":"x"}`)},
	} {
		rec := e.do(t, c)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, c.path)
	}
	rec := e.do(t, call{method: http.MethodGet, path: "/v1/jobs", token: "not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedInJobIsRecorded(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()
	tok := token(t, "user-7")

	body, ctype := multipartFile(t, "image", "photo.png", pngImage(t))
	require.Equal(t, http.StatusOK, e.do(t, call{method: http.MethodPost, path: "/v1/upscale/file", body: body, ctype: ctype, session: sid, token: tok}).Code)
	rec := e.do(t, call{method: http.MethodPost, path: "/v1/upscale/submit?wait=1", session: sid, token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	jobID := decodeSnapshot(t, rec).Job.ID

	require.Eventually(t, func() bool { return e.repo.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/jobs", token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	var page history.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, jobID, page.Items[0].ID)
	assert.Equal(t, "2X · JPG", page.Items[0].Label)
	assert.Equal(t, domain.MirrorDone, page.Items[0].MirrorStatus)
	assert.Equal(t, "http://cdn.test/static/results/user-7/"+jobID+".png", page.Items[0].ResultURL)
	assert.Equal(t, 1, page.Stats.Total)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/jobs/archive", token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Length"))
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, jobID+".png", zr.File[0].Name)

	rec = e.do(t, call{method: http.MethodDelete, path: "/v1/jobs/not-a-uuid", token: tok})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_found"`)

	rec = e.do(t, call{method: http.MethodDelete, path: "/v1/jobs/" + jobID, token: token(t, "someone-else")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, call{method: http.MethodDelete, path: "/v1/jobs/" + jobID, token: tok})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, e.repo.Len())
}

func TestDownloadNamedAfterArtifact(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()
	require.Equal(t, http.StatusOK, e.upload(t, sid, pngImage(t)).Code)

	rec := e.do(t, call{method: http.MethodPut, path: "/v1/upscale/options", body: strings.NewReader(`{"format":"webp"}`), ctype: "application/json", session: sid})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, call{method: http.MethodPost, path: "/v1/upscale/submit?wait=true", session: sid})
	require.Equal(t, http.StatusOK, rec.Code)
	jobID := decodeSnapshot(t, rec).Job.ID

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/upscale/download", session: sid})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "attachment; filename=upscaled-"+jobID+".png", rec.Header().Get("Content-Disposition"))
}

func TestAnonymousJobIsNotRecorded(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()
	require.Equal(t, http.StatusOK, e.upload(t, sid, pngImage(t)).Code)
	rec := e.do(t, call{method: http.MethodPost, path: "/v1/upscale/submit?wait=true", session: sid})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, e.repo.Len())
}

func TestUploadsRoundTrip(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "user-1")

	body, ctype := multipartFile(t, "file", "cat.png", pngImage(t))
	rec := e.do(t, call{method: http.MethodPost, path: "/v1/uploads", body: body, ctype: ctype, token: tok})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var up struct {
		URL string `json:"url"`
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.True(t, strings.HasPrefix(up.Key, "uploads/user-1/"))
	assert.True(t, strings.HasSuffix(up.Key, ".png"))

	del := func(tok string) int {
		payload, _ := json.Marshal(map[string]string{"url": up.URL})
		return e.do(t, call{method: http.MethodDelete, path: "/v1/uploads", body: bytes.NewReader(payload), ctype: "application/json", token: tok}).Code
	}
	assert.Equal(t, http.StatusNotFound, del(token(t, "user-2")))
	assert.Equal(t, http.StatusNoContent, del(tok))
	assert.Equal(t, http.StatusNotFound, del(tok))
}

func TestMeAndHealth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, call{method: http.MethodGet, path: "/v1/me"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"anonymous":true`)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/me", token: token(t, "user-3")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"user-3"`)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/openapi.json"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, json.Valid(rec.Body.Bytes()))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	e.handler.ServeHTTP(cached, req)
	assert.Equal(t, http.StatusNotModified, cached.Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/v1/docs"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Upscaler API 1.0.0</title>")
	assert.Contains(t, rec.Body.String(), `spec-url="/v1/openapi.json"`)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	sid := session.NewID()
	e.upload(t, sid, []byte("nope"))
	e.do(t, call{method: http.MethodGet, path: "/v1/upscale", session: sid})

	rec := e.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `upscaler_upscale_validation_failures_total{reason="unsupported_type"} 1`)
	assert.Contains(t, out, `route="/v1/upscale`)
}
