package domain

import (
	"context"
	"time"
)

// JobRepository persists completed jobs for signed-in users.
type JobRepository interface {
	Insert(ctx context.Context, rec *JobRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]JobRecord, error)
	Stats(ctx context.Context, userID string, since time.Time) (*HistoryStats, error)
	// Delete removes a record owned by userID and returns it so the caller can
	// drop the stored blob. ErrNotFound when nothing matched.
	Delete(ctx context.Context, userID, jobID string) (*JobRecord, error)
	ClaimPendingMirrors(ctx context.Context, limit int) ([]JobRecord, error)
	MarkMirror(ctx context.Context, jobID string, status MirrorStatus, resultURL, storageKey string) error
}

// CredentialStore returns provider tokens saved out of band.
type CredentialStore interface {
	ProviderToken(ctx context.Context, provider string) (string, error)
}
