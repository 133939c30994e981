package harvest

import "context"

// WorkListSource provides the ordered list of identifiers to harvest.
type WorkListSource interface {
	// Stat reports whether the source exists and is reachable.
	Stat(ctx context.Context) error
	// Load returns the identifiers in input order, duplicates included.
	Load(ctx context.Context) ([]WorkItem, error)
}

// ResultStore persists the ResultSet. SaveResults overwrites wholesale.
type ResultStore interface {
	LoadResults(ctx context.Context) (ResultSet, error)
	SaveResults(ctx context.Context, rs ResultSet) error
}

// FailedStore persists the FailedSet. SaveFailed unions with whatever is
// already persisted before overwriting, so identifiers are never dropped.
type FailedStore interface {
	LoadFailed(ctx context.Context) (FailedSet, error)
	SaveFailed(ctx context.Context, fs FailedSet) error
}

// StatusStore persists the ProgressStatus checkpoint.
type StatusStore interface {
	LoadStatus(ctx context.Context) (ProgressStatus, error)
	SaveStatus(ctx context.Context, st ProgressStatus) error
}

// Stores groups the durable stores a run needs.
type Stores struct {
	Results ResultStore
	Failed  FailedStore
	Status  StatusStore
}

// Fetcher acquires the backing resource used to fetch items, such as an API
// client or a browser session.
type Fetcher interface {
	Open(ctx context.Context) (FetchSession, error)
}

// FetchSession retrieves one item at a time. Sessions are not safe for
// concurrent use.
type FetchSession interface {
	Fetch(ctx context.Context, id WorkItem) (ItemResult, error)
	Close() error
}

// Prober reports whether the network is reachable.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// OutcomePublisher announces per-item outcomes to interested parties.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o ItemOutcome) error
}
