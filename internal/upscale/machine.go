package upscale

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"upscaler/internal/domain"
)

// Submitter is the mediator contract the machine depends on.
type Submitter interface {
	SubmitForUpscale(ctx context.Context, asset domain.UploadedAsset, opts domain.UpscaleOptions) (domain.ResultReference, error)
}

// Observer receives lifecycle events, typically for metrics.
type Observer interface {
	ValidationFailed(reason domain.ValidationReason)
	Gated(option string)
	JobStarted(opts domain.UpscaleOptions)
	JobFinished(opts domain.UpscaleOptions, status domain.JobStatus, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ValidationFailed(domain.ValidationReason)                           {}
func (nopObserver) Gated(string)                                                       {}
func (nopObserver) JobStarted(domain.UpscaleOptions)                                   {}
func (nopObserver) JobFinished(domain.UpscaleOptions, domain.JobStatus, time.Duration) {}

// AssetView is the asset as exposed to clients, without its bytes.
type AssetView struct {
	Filename   string `json:"filename,omitempty"`
	PreviewRef string `json:"preview_ref"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Size       int64  `json:"size"`
	MIME       string `json:"mime"`
}

// ErrorView describes the error display state.
type ErrorView struct {
	Kind    string                  `json:"kind"`
	Reason  domain.ValidationReason `json:"reason,omitempty"`
	Message string                  `json:"message"`
}

// Snapshot is a consistent read-only copy of the machine.
type Snapshot struct {
	State   domain.State          `json:"state"`
	Asset   *AssetView            `json:"asset,omitempty"`
	Options domain.UpscaleOptions `json:"options"`
	Job     *domain.UpscaleJob    `json:"job,omitempty"`
	Error   *ErrorView            `json:"error,omitempty"`
	Paywall *domain.GatingSignal  `json:"paywall,omitempty"`
}

// Config wires a Machine's collaborators. Entitlement defaults to FreeTier.
type Config struct {
	Mediator    Submitter
	Previews    PreviewStore
	Entitlement domain.Entitlement
	Observer    Observer
	Logger      zerolog.Logger
}

// Machine owns one upscale lifecycle: idle -> ready -> processing ->
// complete | error. All methods are safe for concurrent use; transitions are
// applied atomically under the machine's lock.
type Machine struct {
	mu sync.Mutex

	state   domain.State
	asset   *domain.UploadedAsset
	options domain.UpscaleOptions
	job     *domain.UpscaleJob
	failure error
	paywall *domain.GatingSignal
	done    chan struct{}

	mediator    Submitter
	previews    PreviewStore
	entitlement domain.Entitlement
	observer    Observer
	logger      zerolog.Logger
	now         func() time.Time
}

func NewMachine(cfg Config) *Machine {
	m := &Machine{
		state:       domain.StateIdle,
		options:     domain.DefaultOptions(),
		done:        closedChan(),
		mediator:    cfg.Mediator,
		previews:    cfg.Previews,
		entitlement: cfg.Entitlement,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if m.previews == nil {
		m.previews = NewMemoryPreviews()
	}
	if m.entitlement == nil {
		m.entitlement = domain.FreeTier{}
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	return m
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// SelectFile validates a new upload and makes it the current asset. The
// previous asset's preview is released whether or not validation succeeds.
// A validation failure leaves no asset and shows the error state; another
// SelectFile is always accepted from there.
func (m *Machine) SelectFile(up domain.Upload) (Snapshot, error) {
	m.mu.Lock()
	switch m.state {
	case domain.StateIdle, domain.StateReady, domain.StateError:
	default:
		state := m.state
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: select file while %s", domain.ErrInvalidTransition, state)
	}

	m.releaseAssetLocked()
	m.job = nil
	m.failure = nil
	m.paywall = nil

	asset, err := Validate(up)
	if err != nil {
		m.state = domain.StateError
		m.failure = err
		snap := m.snapshotLocked()
		m.mu.Unlock()
		if verr, ok := err.(*domain.ValidationError); ok {
			m.observer.ValidationFailed(verr.Reason)
		}
		m.logger.Debug().Err(err).Str("filename", up.Filename).Msg("upload rejected")
		return snap, err
	}

	asset.PreviewRef = m.previews.Put(asset.Data, asset.MIME)
	m.asset = asset
	m.state = domain.StateReady
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug().Int("width", asset.Width).Int("height", asset.Height).Str("mime", asset.MIME).Msg("asset ready")
	return snap, nil
}

// ChooseResolution sets the resolution if entitled. A gated choice returns a
// GatingSignal, raises the paywall and leaves the options untouched.
func (m *Machine) ChooseResolution(r domain.Resolution) (*domain.GatingSignal, error) {
	return m.ChooseOptions(domain.UpscaleOptions{Resolution: r})
}

// ChooseFormat is ChooseResolution for the output format.
func (m *Machine) ChooseFormat(f domain.OutputFormat) (*domain.GatingSignal, error) {
	return m.ChooseOptions(domain.UpscaleOptions{Format: f})
}

// ChooseOptions applies the non-empty fields of opts. Either every field is
// applied or none is.
func (m *Machine) ChooseOptions(opts domain.UpscaleOptions) (*domain.GatingSignal, error) {
	if opts.Resolution != "" && !opts.Resolution.Valid() {
		return nil, fmt.Errorf("%w: resolution %q", domain.ErrUnknownOption, opts.Resolution)
	}
	if opts.Format != "" && !opts.Format.Valid() {
		return nil, fmt.Errorf("%w: format %q", domain.ErrUnknownOption, opts.Format)
	}

	m.mu.Lock()
	if m.state != domain.StateReady {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: choose options while %s", domain.ErrInvalidTransition, state)
	}

	var signal *domain.GatingSignal
	switch {
	case opts.Resolution != "" && !m.entitlement.AllowsResolution(opts.Resolution):
		signal = &domain.GatingSignal{Option: "resolution", Value: string(opts.Resolution)}
	case opts.Format != "" && !m.entitlement.AllowsFormat(opts.Format):
		signal = &domain.GatingSignal{Option: "format", Value: string(opts.Format)}
	}
	if signal != nil {
		m.paywall = signal
		m.mu.Unlock()
		m.observer.Gated(signal.Option)
		return signal, nil
	}

	if opts.Resolution != "" {
		m.options.Resolution = opts.Resolution
	}
	if opts.Format != "" {
		m.options.Format = opts.Format
	}
	m.mu.Unlock()
	return nil, nil
}

// Submit freezes the options, creates a job and hands it to the mediator in
// the background. A second Submit while processing returns
// ErrSubmissionInFlight without issuing a request. onDone, if set, runs once
// after the job reaches a terminal state.
//
// The inference call is detached from ctx cancellation so that a client
// disconnect cannot leave the job stuck in processing; the mediator applies
// its own deadline.
func (m *Machine) Submit(ctx context.Context, onDone func(domain.UpscaleJob)) (domain.UpscaleJob, error) {
	m.mu.Lock()
	switch {
	case m.state == domain.StateProcessing:
		m.mu.Unlock()
		return domain.UpscaleJob{}, domain.ErrSubmissionInFlight
	case m.asset == nil:
		m.mu.Unlock()
		return domain.UpscaleJob{}, domain.ErrNoAsset
	case m.state != domain.StateReady:
		state := m.state
		m.mu.Unlock()
		return domain.UpscaleJob{}, fmt.Errorf("%w: submit while %s", domain.ErrInvalidTransition, state)
	}

	job := &domain.UpscaleJob{
		ID:        uuid.NewString(),
		Options:   m.options,
		Status:    domain.JobStatusProcessing,
		CreatedAt: m.now().UTC(),
	}
	m.job = job
	m.state = domain.StateProcessing
	m.failure = nil
	m.paywall = nil
	done := make(chan struct{})
	m.done = done
	asset := *m.asset
	opts := job.Options
	started := *job
	m.mu.Unlock()

	m.observer.JobStarted(opts)
	m.logger.Info().Str("job_id", job.ID).Str("resolution", string(opts.Resolution)).Str("format", string(opts.Format)).Msg("upscale submitted")

	go m.run(context.WithoutCancel(ctx), job.ID, asset, opts, done, onDone)
	return started, nil
}

func (m *Machine) run(ctx context.Context, jobID string, asset domain.UploadedAsset, opts domain.UpscaleOptions, done chan struct{}, onDone func(domain.UpscaleJob)) {
	var (
		ref domain.ResultReference
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			ref, err = "", &domain.UpstreamError{Message: fmt.Sprintf("internal failure: %v", r)}
			m.logger.Error().Str("job_id", jobID).Interface("panic", r).Msg("upscale panicked")
		}
		m.finish(jobID, ref, err, done, onDone)
	}()
	if m.mediator == nil {
		err = &domain.TransportError{Err: fmt.Errorf("no inference service configured")}
		return
	}
	ref, err = m.mediator.SubmitForUpscale(ctx, asset, opts)
}

func (m *Machine) finish(jobID string, ref domain.ResultReference, err error, done chan struct{}, onDone func(domain.UpscaleJob)) {
	m.mu.Lock()
	if m.job == nil || m.job.ID != jobID {
		m.mu.Unlock()
		close(done)
		return
	}
	job := m.job
	job.FinishedAt = m.now().UTC()
	if err == nil && ref == "" {
		err = &domain.UpstreamError{Message: "empty output"}
	}
	if err != nil {
		job.Status = domain.JobStatusError
		job.ErrorRef = UserMessage(err)
		job.ResultRef = ""
		m.state = domain.StateError
		m.failure = err
	} else {
		job.Status = domain.JobStatusComplete
		job.ResultRef = ref
		m.state = domain.StateComplete
	}
	final := *job
	m.mu.Unlock()
	close(done)

	m.observer.JobFinished(final.Options, final.Status, final.FinishedAt.Sub(final.CreatedAt))
	if err != nil {
		m.logger.Warn().Str("job_id", jobID).Str("kind", ErrorKind(err)).Err(err).Msg("upscale failed")
	} else {
		m.logger.Info().Str("job_id", jobID).Msg("upscale complete")
	}
	if onDone != nil {
		onDone(final)
	}
}

// Reset returns to idle, releasing the preview and discarding the job. It is
// rejected while a job is processing.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.StateProcessing {
		return fmt.Errorf("%w: reset while processing", domain.ErrInvalidTransition)
	}
	m.releaseAssetLocked()
	m.state = domain.StateIdle
	m.options = domain.DefaultOptions()
	m.job = nil
	m.failure = nil
	m.paywall = nil
	return nil
}

// Release frees the preview regardless of state. Used when the owning
// session is evicted.
func (m *Machine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseAssetLocked()
}

func (m *Machine) releaseAssetLocked() {
	if m.asset != nil {
		m.previews.Release(m.asset.PreviewRef)
		m.asset = nil
	}
}

// DismissPaywall clears the paywall flag.
func (m *Machine) DismissPaywall() {
	m.mu.Lock()
	m.paywall = nil
	m.mu.Unlock()
}

// Done returns a channel closed once the current job is terminal. It is
// already closed when nothing is processing.
func (m *Machine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Wait blocks until the current job is terminal or ctx ends.
func (m *Machine) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-m.Done():
		return m.Snapshot(), nil
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// State returns the current state.
func (m *Machine) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state, Options: m.options}
	if m.asset != nil {
		snap.Asset = &AssetView{
			Filename:   m.asset.Filename,
			PreviewRef: m.asset.PreviewRef,
			Width:      m.asset.Width,
			Height:     m.asset.Height,
			Size:       m.asset.Size,
			MIME:       m.asset.MIME,
		}
	}
	if m.job != nil {
		job := *m.job
		snap.Job = &job
	}
	if m.failure != nil {
		view := &ErrorView{Kind: ErrorKind(m.failure), Message: UserMessage(m.failure)}
		if verr, ok := m.failure.(*domain.ValidationError); ok {
			view.Reason = verr.Reason
		}
		snap.Error = view
	}
	if m.paywall != nil {
		p := *m.paywall
		snap.Paywall = &p
	}
	return snap
}
