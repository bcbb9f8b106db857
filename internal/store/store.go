// Package store persists listings and the run ledger.
//
// Writers go through a UnitOfWork obtained from Store.Begin: every insert of
// one ingestion cycle is staged in the same unit and becomes visible to
// readers only when Commit succeeds. Readers use the Reader interface and
// never write.
package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"jobchommie/listing-service/internal/model"
)

// ErrDuplicateKey is returned when an insert would violate the
// (title, company, location) uniqueness of the jobs table.
var ErrDuplicateKey = errors.New("listing with the same title, company and location already exists")

// UnitOfWork is a transactional boundary for one ingestion cycle.
// Rollback after a successful Commit is a no-op, so callers may defer it.
type UnitOfWork interface {
	// FindByKey looks a listing up by its dedup key, including listings
	// inserted earlier in the same unit of work.
	FindByKey(ctx context.Context, key model.DedupKey) (model.Listing, bool, error)
	// InsertListing stores l and sets l.ID.
	InsertListing(ctx context.Context, l *model.Listing) error
	// InsertRun appends r to the run ledger and sets r.ID.
	InsertRun(ctx context.Context, r *model.Run) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens units of work.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// Reader is the read-only view used by the query surface.
type Reader interface {
	ListListings(ctx context.Context, q model.ListingQuery) (model.ListingPage, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	Ping(ctx context.Context) error
}

// Backend is implemented by both the Postgres and the in-memory store.
type Backend interface {
	Store
	Reader
}
