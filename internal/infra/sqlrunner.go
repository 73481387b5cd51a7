package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is what repositories need to run marker-tagged queries.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var (
	markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

	errEmptyQuery    = errors.New("sql: empty query")
	errMissingMarker = errors.New("sql: marker missing or invalid")
)

// SQLRunner refuses queries without a "--sql <uuid>" first line and logs
// each one under its marker. When the context carries a request logger the
// lines share its request_id.
type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger}
}

func (r *SQLRunner) logger(ctx context.Context, marker string) zerolog.Logger {
	base := r.Logger
	if scoped := zerolog.Ctx(ctx); scoped.GetLevel() != zerolog.Disabled {
		base = *scoped
	}
	return base.With().Str("sql", marker).Logger()
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	log := r.logger(ctx, marker)
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, body, args...)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("sql exec failed")
		return tag, err
	}
	log.Debug().Int64("rows", tag.RowsAffected()).Dur("elapsed", time.Since(start)).Msg("sql exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggingRow{row: r.Pool.QueryRow(ctx, body, args...), logger: r.logger(ctx, marker), start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	log := r.logger(ctx, marker)
	start := time.Now()
	rows, err := r.Pool.Query(ctx, body, args...)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("sql query failed")
		return nil, err
	}
	return &loggingRows{Rows: rows, logger: log, start: start}, nil
}

// loggingRow logs on Scan, where pgx reports QueryRow errors. An empty
// result is an answer, not a failure.
type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
	start  time.Time
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	switch {
	case err == nil, IsNoRows(err):
		l.logger.Debug().Bool("found", err == nil).Dur("elapsed", time.Since(l.start)).Msg("sql query_row")
	default:
		l.logger.Error().Err(err).Dur("elapsed", time.Since(l.start)).Msg("sql query_row failed")
	}
	return err
}

type loggingRows struct {
	pgx.Rows
	logger zerolog.Logger
	start  time.Time
	n      int
}

func (l *loggingRows) Next() bool {
	ok := l.Rows.Next()
	if ok {
		l.n++
	}
	return ok
}

func (l *loggingRows) Close() {
	l.Rows.Close()
	if err := l.Rows.Err(); err != nil {
		l.logger.Error().Err(err).Int("rows", l.n).Dur("elapsed", time.Since(l.start)).Msg("sql query failed")
		return
	}
	l.logger.Debug().Int("rows", l.n).Dur("elapsed", time.Since(l.start)).Msg("sql query")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// extractMarker splits the marker line from the statement sent to Postgres.
func extractMarker(query string) (marker, body string, err error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errEmptyQuery
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", errMissingMarker
	}
	body = strings.TrimSpace(rest)
	if body == "" {
		return "", "", errEmptyQuery
	}
	return m[1], body, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)

// IsNoRows reports whether err signals an empty result set.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
