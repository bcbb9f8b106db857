// Package ingest implements the ingestion cycle: fetch candidates from the
// provider, drop the ones already stored under the same (title, company,
// location) key, insert the rest and append one run-ledger entry, all in a
// single unit of work.
package ingest

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"jobchommie/listing-service/internal/logging"
	"jobchommie/listing-service/internal/model"
	"jobchommie/listing-service/internal/provider"
	"jobchommie/listing-service/internal/store"
)

// failureLedgerTimeout bounds the run write that follows a failed fetch.
const failureLedgerTimeout = 10 * time.Second

// ErrPersistence marks a cycle whose unit of work could not be committed.
// Nothing written by that cycle is visible.
var ErrPersistence = errors.New("ingestion cycle persistence failed")

// Fetcher is the provider side of a cycle.
type Fetcher interface {
	Fetch(ctx context.Context) (provider.Result, error)
}

// Publisher announces committed cycles. Failures are logged, never fatal.
type Publisher interface {
	PublishIngested(ctx context.Context, r Report) error
}

// Report describes one cycle. Counters are for logs and events only; the run
// ledger stores just the call count and the outcome.
type Report struct {
	StartedAt  time.Time `json:"startedAt"`
	Skipped    bool      `json:"skipped"`
	Success    bool      `json:"success"`
	APICalls   int       `json:"apiCalls"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Invalid    int       `json:"invalid"`
	Excluded   int       `json:"excluded"`
	RunID      int64     `json:"runId,omitempty"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithPublisher sets the event publisher.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithClock sets a custom clock.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithExcludeTerms discards candidates mentioning any of the terms.
func WithExcludeTerms(terms []string) Option {
	return func(p *Pipeline) { p.excludeTerms = terms }
}

// Pipeline runs ingestion cycles. It is not safe for concurrent RunCycle
// calls; the scheduler guarantees cycles never overlap.
type Pipeline struct {
	store        store.Store
	fetcher      Fetcher
	publisher    Publisher
	log          *logging.Logger
	clock        func() time.Time
	excludeTerms []string
}

// New builds a Pipeline from its collaborators and options.
func New(st store.Store, f Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   st,
		fetcher: f,
		log:     logging.Nop(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle executes one ingestion cycle.
//
// An unconfigured provider is a no-op: Report.Skipped is set, nothing is
// written and the error is nil. A failed fetch is recorded in the run ledger
// with Success=false and returned as an error matching provider.ErrFetchFailed.
// A failed unit of work is rolled back and returned as ErrPersistence.
func (p *Pipeline) RunCycle(ctx context.Context) (Report, error) {
	rep := Report{StartedAt: p.clock().UTC()}

	res, err := p.fetcher.Fetch(ctx)
	rep.APICalls = res.Calls
	if errors.Is(err, provider.ErrNotConfigured) {
		p.log.Warn("provider not configured; skipping ingestion cycle", "startedAt", rep.StartedAt)
		rep.Skipped = true
		return rep, nil
	}
	if err != nil {
		if !errors.Is(err, provider.ErrFetchFailed) {
			err = errors.Mark(err, provider.ErrFetchFailed)
		}
		return rep, p.recordFailure(ctx, &rep, err)
	}

	rep.Fetched = len(res.Candidates)
	if err := p.persist(ctx, res.Candidates, &rep); err != nil {
		return rep, err
	}
	rep.Success = true

	p.log.Info("ingestion cycle committed",
		"startedAt", rep.StartedAt,
		"fetched", rep.Fetched,
		"inserted", rep.Inserted,
		"duplicates", rep.Duplicates,
		"invalid", rep.Invalid,
		"excluded", rep.Excluded,
		"runId", rep.RunID,
	)
	p.publish(ctx, rep)
	return rep, nil
}

// persist stages every new listing plus the run record and commits them as
// one unit. Candidates are processed in provider order; the first sighting
// of a key wins, including within the same batch.
func (p *Pipeline) persist(ctx context.Context, candidates []model.Candidate, rep *Report) error {
	uow, err := p.store.Begin(ctx)
	if err != nil {
		return p.persistenceError(rep.StartedAt, err)
	}
	defer func() { _ = uow.Rollback(context.WithoutCancel(ctx)) }()

	for _, c := range candidates {
		switch screen(c, p.excludeTerms) {
		case invalid:
			rep.Invalid++
			continue
		case excluded:
			rep.Excluded++
			continue
		}

		_, found, err := uow.FindByKey(ctx, c.Key())
		if err != nil {
			return p.persistenceError(rep.StartedAt, err)
		}
		if found {
			rep.Duplicates++
			continue
		}

		l := c.ToListing(p.clock().UTC())
		if err := uow.InsertListing(ctx, &l); err != nil {
			return p.persistenceError(rep.StartedAt, err)
		}
		rep.Inserted++
	}

	run := model.Run{RunTime: rep.StartedAt, APICallsMade: rep.APICalls, Success: true}
	if err := uow.InsertRun(ctx, &run); err != nil {
		return p.persistenceError(rep.StartedAt, err)
	}
	if err := uow.Commit(ctx); err != nil {
		return p.persistenceError(rep.StartedAt, err)
	}
	rep.RunID = run.ID
	return nil
}

// recordFailure appends a Success=false run for a cycle whose fetch failed,
// so the ledger holds one entry per attempted cycle. The write is detached
// from the cycle context, which may already be past its deadline.
func (p *Pipeline) recordFailure(ctx context.Context, rep *Report, fetchErr error) error {
	cycleErr := errors.Wrapf(fetchErr, "ingestion cycle started %s", rep.StartedAt.Format(time.RFC3339))

	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureLedgerTimeout)
	defer cancel()

	run := model.Run{RunTime: rep.StartedAt, APICallsMade: rep.APICalls, Success: false}
	if err := p.appendRun(ledgerCtx, &run); err != nil {
		return errors.CombineErrors(cycleErr, p.persistenceError(rep.StartedAt, err))
	}
	rep.RunID = run.ID
	return cycleErr
}

func (p *Pipeline) appendRun(ctx context.Context, run *model.Run) error {
	uow, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback(context.WithoutCancel(ctx)) }()

	if err := uow.InsertRun(ctx, run); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (p *Pipeline) persistenceError(startedAt time.Time, cause error) error {
	return errors.Mark(
		errors.Wrapf(cause, "ingestion cycle started %s rolled back", startedAt.Format(time.RFC3339)),
		ErrPersistence,
	)
}

func (p *Pipeline) publish(ctx context.Context, rep Report) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishIngested(ctx, rep); err != nil {
		p.log.Warn("publish ingestion event failed", "err", err, "runId", rep.RunID)
	}
}
