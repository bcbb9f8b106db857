package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobchommie/listing-service/internal/model"
)

// schema is applied at startup. Optional listing fields are NOT NULL with an
// empty default so that the dedup index compares absent values as equal.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          BIGSERIAL PRIMARY KEY,
	title       TEXT        NOT NULL CHECK (title <> ''),
	company     TEXT        NOT NULL DEFAULT '',
	location    TEXT        NOT NULL DEFAULT '',
	description TEXT        NOT NULL DEFAULT '',
	url         TEXT        NOT NULL DEFAULT '',
	date_posted TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS jobs_dedup_key ON jobs (title, company, location);
CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS scheduled_runs (
	id             BIGSERIAL PRIMARY KEY,
	run_time       TIMESTAMPTZ NOT NULL,
	api_calls_made INTEGER     NOT NULL DEFAULT 0,
	success        BOOLEAN     NOT NULL
);
CREATE INDEX IF NOT EXISTS scheduled_runs_run_time_idx ON scheduled_runs (run_time DESC);
`

const uniqueViolation = "23505"

// Postgres is the pgx-backed store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already verified pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables and indexes when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Begin starts a read-committed transaction for one ingestion cycle.
func (p *Postgres) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	return &pgUnit{tx: tx}, nil
}

// ListListings reads one page and the total in a single repeatable-read
// snapshot so that both agree even while a cycle commits.
func (p *Postgres) ListListings(ctx context.Context, q model.ListingQuery) (model.ListingPage, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return model.ListingPage{}, errors.Wrap(err, "begin read transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pattern := likePattern(q.Text)

	var page model.ListingPage
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE $1 = '' OR title ILIKE $1 ESCAPE '\'`,
		pattern,
	).Scan(&page.Total)
	if err != nil {
		return model.ListingPage{}, errors.Wrap(err, "count listings")
	}

	rows, err := tx.Query(ctx,
		`SELECT id, title, company, location, description, url, date_posted, created_at
		 FROM jobs
		 WHERE $1 = '' OR title ILIKE $1 ESCAPE '\'
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		pattern, q.Limit, q.Offset(),
	)
	if err != nil {
		return model.ListingPage{}, errors.Wrap(err, "query listings")
	}
	defer rows.Close()

	page.Items = make([]model.Listing, 0, q.Limit)
	for rows.Next() {
		var l model.Listing
		if err := rows.Scan(
			&l.ID, &l.Title, &l.Company, &l.Location,
			&l.Description, &l.URL, &l.DatePosted, &l.CreatedAt,
		); err != nil {
			return model.ListingPage{}, errors.Wrap(err, "scan listing")
		}
		page.Items = append(page.Items, l)
	}
	if err := rows.Err(); err != nil {
		return model.ListingPage{}, errors.Wrap(err, "iterate listings")
	}
	return page, nil
}

// ListRuns returns the most recent run-ledger entries, newest first.
func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, run_time, api_calls_made, success
		 FROM scheduled_runs
		 ORDER BY run_time DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	runs := make([]model.Run, 0, limit)
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.RunTime, &r.APICallsMade, &r.Success); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type pgUnit struct {
	tx pgx.Tx
}

func (u *pgUnit) FindByKey(ctx context.Context, key model.DedupKey) (model.Listing, bool, error) {
	var l model.Listing
	err := u.tx.QueryRow(ctx,
		`SELECT id, title, company, location, description, url, date_posted, created_at
		 FROM jobs
		 WHERE title = $1 AND company = $2 AND location = $3`,
		key.Title, key.Company, key.Location,
	).Scan(
		&l.ID, &l.Title, &l.Company, &l.Location,
		&l.Description, &l.URL, &l.DatePosted, &l.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Listing{}, false, nil
	}
	if err != nil {
		return model.Listing{}, false, errors.Wrap(err, "find listing by key")
	}
	return l, true, nil
}

func (u *pgUnit) InsertListing(ctx context.Context, l *model.Listing) error {
	err := u.tx.QueryRow(ctx,
		`INSERT INTO jobs (title, company, location, description, url, date_posted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		l.Title, l.Company, l.Location, l.Description, l.URL, l.DatePosted, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.Wrapf(ErrDuplicateKey, "insert %q", l.Title)
		}
		return errors.Wrap(err, "insert listing")
	}
	return nil
}

func (u *pgUnit) InsertRun(ctx context.Context, r *model.Run) error {
	err := u.tx.QueryRow(ctx,
		`INSERT INTO scheduled_runs (run_time, api_calls_made, success)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		r.RunTime, r.APICallsMade, r.Success,
	).Scan(&r.ID)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}
	return nil
}

func (u *pgUnit) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (u *pgUnit) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// likePattern turns free text into an ILIKE substring pattern, escaping the
// LIKE wildcards so they match literally. Empty text yields "".
func likePattern(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(text) + "%"
}
