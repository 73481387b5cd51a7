package domain

import "time"

// MirrorStatus tracks the copy of a provider artifact into our blob store.
type MirrorStatus string

const (
	MirrorDone    MirrorStatus = "done"
	MirrorPending MirrorStatus = "pending"
	MirrorFailed  MirrorStatus = "failed"
)

// JobRecord is the persisted form of a completed job.
type JobRecord struct {
	ID             string       `json:"id"`
	UserID         string       `json:"-"`
	ResultURL      string       `json:"result_url"`
	SourceURL      string       `json:"-"`
	StorageKey     string       `json:"-"`
	Resolution     string       `json:"resolution"`
	Format         string       `json:"format"`
	MirrorStatus   MirrorStatus `json:"mirror_status"`
	MirrorAttempts int          `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
}

// HistoryStats backs the dashboard header.
type HistoryStats struct {
	Total     int    `json:"total"`
	ThisMonth int    `json:"this_month"`
	Plan      string `json:"plan"`
	Credits   string `json:"credits"`
}

// MirrorInProgress marks a record claimed by a worker.
const MirrorInProgress MirrorStatus = "mirroring"
