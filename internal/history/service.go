package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"upscaler/internal/domain"
	"upscaler/internal/storage"
	"upscaler/pkg/zip"
)

// MaxMirrorAttempts bounds how often a pending copy is retried.
const MaxMirrorAttempts = 3

// archiveLimit bounds how many records one archive download covers.
const archiveLimit = 200

// maxArtifactBytes caps a downloaded result. 8x outputs of a 10 MiB source
// are large but stay well below this.
const maxArtifactBytes = 256 << 20

// Entry is a history record as shown on the dashboard.
type Entry struct {
	domain.JobRecord
	Label string `json:"label"`
}

// Page is the dashboard payload.
type Page struct {
	Items []Entry              `json:"items"`
	Stats *domain.HistoryStats `json:"stats"`
}

// Options wires a Service.
type Options struct {
	Repo       domain.JobRepository
	Blobs      storage.BlobStore
	HTTPClient *http.Client
	Logger     zerolog.Logger
	// OnMirror observes every copy attempt.
	OnMirror func(domain.MirrorStatus)
}

// Service persists completed jobs for signed-in users and copies provider
// artifacts into our blob store, since provider URLs expire.
type Service struct {
	repo     domain.JobRepository
	blobs    storage.BlobStore
	client   *http.Client
	logger   zerolog.Logger
	onMirror func(domain.MirrorStatus)
	now      func() time.Time
}

func NewService(opts Options) *Service {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	onMirror := opts.OnMirror
	if onMirror == nil {
		onMirror = func(domain.MirrorStatus) {}
	}
	return &Service{
		repo:     opts.Repo,
		blobs:    opts.Blobs,
		client:   client,
		logger:   opts.Logger,
		onMirror: onMirror,
		now:      time.Now,
	}
}

// Record stores a completed job for identity. Anonymous users and
// non-complete jobs are ignored. A failed copy still records the job with the
// provider URL and leaves it pending for the worker.
func (s *Service) Record(ctx context.Context, identity *domain.Identity, job domain.UpscaleJob) error {
	if identity == nil || identity.UserID == "" || job.Status != domain.JobStatusComplete || job.ResultRef == "" {
		return nil
	}
	rec := &domain.JobRecord{
		ID:         job.ID,
		UserID:     identity.UserID,
		ResultURL:  string(job.ResultRef),
		SourceURL:  string(job.ResultRef),
		Resolution: string(job.Options.Resolution),
		Format:     string(job.Options.Format),
		CreatedAt:  job.CreatedAt,
	}

	obj, err := s.copy(ctx, rec)
	if err != nil {
		rec.MirrorStatus = domain.MirrorPending
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("result mirror deferred")
	} else {
		rec.MirrorStatus = domain.MirrorDone
		rec.ResultURL = obj.URL
		rec.StorageKey = obj.Key
	}
	s.onMirror(rec.MirrorStatus)

	if err := s.repo.Insert(ctx, rec); err != nil {
		if rec.StorageKey != "" {
			_ = s.blobs.Delete(ctx, rec.StorageKey)
		}
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("user_id", identity.UserID).Str("mirror", string(rec.MirrorStatus)).Msg("job recorded")
	return nil
}

// RetryPending claims up to limit pending records and retries their copy.
// It returns how many were processed.
func (s *Service) RetryPending(ctx context.Context, limit int) (int, error) {
	recs, err := s.repo.ClaimPendingMirrors(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s.retry(ctx, rec)
	}
	return len(recs), nil
}

func (s *Service) retry(ctx context.Context, rec domain.JobRecord) {
	obj, err := s.copy(ctx, &rec)
	status := domain.MirrorDone
	var resultURL, key string
	switch {
	case err == nil:
		resultURL, key = obj.URL, obj.Key
	case rec.MirrorAttempts >= MaxMirrorAttempts:
		status = domain.MirrorFailed
	default:
		status = domain.MirrorPending
	}
	s.onMirror(status)

	logEvent := s.logger.Info()
	if err != nil {
		logEvent = s.logger.Warn().Err(err)
	}
	logEvent.Str("job_id", rec.ID).Int("attempt", rec.MirrorAttempts).Str("mirror", string(status)).Msg("mirror retry")

	if markErr := s.repo.MarkMirror(ctx, rec.ID, status, resultURL, key); markErr != nil {
		s.logger.Error().Err(markErr).Str("job_id", rec.ID).Msg("mark mirror failed")
	}
}

func (s *Service) copy(ctx context.Context, rec *domain.JobRecord) (storage.Object, error) {
	data, err := s.fetch(ctx, rec.SourceURL)
	if err != nil {
		return storage.Object{}, err
	}
	mime := mimetype.Detect(data)
	ext := mime.Extension()
	if ext == "" {
		ext = domain.OutputFormat(rec.Format).Extension()
	}
	key := path.Join("results", rec.UserID, rec.ID+ext)
	obj, err := s.blobs.Put(ctx, key, data, mime.String())
	if err != nil {
		return storage.Object{}, err
	}
	s.logger.Debug().Str("job_id", rec.ID).Str("size", humanize.IBytes(uint64(len(data)))).Str("key", obj.Key).Msg("result mirrored")
	return obj, nil
}

func (s *Service) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch result: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	if len(data) > maxArtifactBytes {
		return nil, fmt.Errorf("fetch result: artifact exceeds %s", humanize.IBytes(maxArtifactBytes))
	}
	if len(data) == 0 {
		return nil, errors.New("fetch result: empty body")
	}
	return data, nil
}

// List returns the user's history newest first, with dashboard stats.
func (s *Service) List(ctx context.Context, userID string, limit int) (*Page, error) {
	recs, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	stats, err := s.repo.Stats(ctx, userID, monthStart(s.now()))
	if err != nil {
		return nil, err
	}
	items := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		items = append(items, Entry{JobRecord: rec, Label: Label(rec)})
	}
	return &Page{Items: items, Stats: stats}, nil
}

// Label renders "2X · JPG".
func Label(rec domain.JobRecord) string {
	upper := cases.Upper(language.Und)
	return upper.String(rec.Resolution) + " · " + upper.String(rec.Format)
}

// Delete removes the user's job and its stored blob. A missing blob is not an error.
func (s *Service) Delete(ctx context.Context, userID, jobID string) error {
	rec, err := s.repo.Delete(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if rec.StorageKey == "" {
		return nil
	}
	if err := s.blobs.Delete(ctx, rec.StorageKey); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("blob delete failed")
	}
	return nil
}

// ArchiveEntries lists the user's mirrored results as zip entries. Each blob
// is opened only when its entry is written; records whose copy is still
// pending, or whose blob is gone, are skipped.
func (s *Service) ArchiveEntries(ctx context.Context, userID string) ([]zip.Entry, error) {
	recs, err := s.repo.ListByUser(ctx, userID, archiveLimit)
	if err != nil {
		return nil, err
	}
	entries := make([]zip.Entry, 0, len(recs))
	for _, rec := range recs {
		if rec.StorageKey == "" {
			continue
		}
		key := rec.StorageKey
		entries = append(entries, zip.Entry{
			Filename: path.Base(key),
			Modified: rec.CreatedAt,
			Open: func() (io.ReadCloser, error) {
				rc, err := s.blobs.Open(ctx, key)
				if errors.Is(err, domain.ErrNotFound) {
					s.logger.Warn().Str("job_id", rec.ID).Str("key", key).Msg("archive: blob missing")
					return nil, zip.ErrSkip
				}
				return rc, err
			},
		})
	}
	return entries, nil
}

// Archive streams a zip of the user's mirrored results to w and returns the
// number of entries written.
func (s *Service) Archive(ctx context.Context, userID string, w io.Writer) (int, error) {
	entries, err := s.ArchiveEntries(ctx, userID)
	if err != nil {
		return 0, err
	}
	return zip.Stream(w, entries)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Filename is the download name for a job's result. The extension follows
// the artifact's URL when it names an image type, since providers may ignore
// the requested format; otherwise the chosen format is used.
func Filename(jobID string, ref domain.ResultReference, chosen domain.OutputFormat) string {
	format := chosen
	if u, err := url.Parse(string(ref)); err == nil {
		if ext := path.Ext(u.Path); len(ext) > 1 {
			if f, err := domain.ParseOutputFormat(ext[1:]); err == nil {
				format = f
			}
		}
	}
	return "upscaled-" + strings.TrimSpace(jobID) + format.Extension()
}
