package harvest

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// WorkItem is an opaque account identifier (CID) from the ordered input list.
type WorkItem string

func (w WorkItem) String() string { return string(w) }

// ItemResult maps a billing period label to the billed amount.
type ItemResult map[string]float64

// ResultRow is one flattened (id, period, value) record of the tabular store.
type ResultRow struct {
	ID     string
	Period string
	Value  float64
}

// ResultSet holds every successfully fetched item keyed by identifier.
type ResultSet map[string]ItemResult

// NewResultSet returns an empty ResultSet.
func NewResultSet() ResultSet { return make(ResultSet) }

// Has reports whether id already has a result.
func (rs ResultSet) Has(id WorkItem) bool {
	_, ok := rs[string(id)]
	return ok
}

// Put stores the result for id, replacing anything already there.
func (rs ResultSet) Put(id WorkItem, r ItemResult) { rs[string(id)] = r }

// Rows flattens the set into rows ordered by identifier then period.
func (rs ResultSet) Rows() []ResultRow {
	ids := make([]string, 0, len(rs))
	for id := range rs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var rows []ResultRow
	for _, id := range ids {
		periods := make([]string, 0, len(rs[id]))
		for p := range rs[id] {
			periods = append(periods, p)
		}
		slices.Sort(periods)
		for _, p := range periods {
			rows = append(rows, ResultRow{ID: id, Period: p, Value: rs[id][p]})
		}
	}
	return rows
}

// ResultSetFromRows regroups flattened rows by identifier. A repeated
// (id, period) pair keeps the last value.
func ResultSetFromRows(rows []ResultRow) ResultSet {
	rs := NewResultSet()
	for _, r := range rows {
		if r.ID == "" {
			continue
		}
		res, ok := rs[r.ID]
		if !ok {
			res = make(ItemResult)
			rs[r.ID] = res
		}
		res[r.Period] = r.Value
	}
	return rs
}

// FailedSet is the set of identifiers that exhausted their retries.
type FailedSet map[string]struct{}

// NewFailedSet returns a FailedSet holding ids.
func NewFailedSet(ids ...string) FailedSet {
	fs := make(FailedSet, len(ids))
	for _, id := range ids {
		fs.Add(WorkItem(id))
	}
	return fs
}

// Add records id as failed.
func (fs FailedSet) Add(id WorkItem) {
	if id == "" {
		return
	}
	fs[string(id)] = struct{}{}
}

// Has reports whether id is recorded as failed.
func (fs FailedSet) Has(id WorkItem) bool {
	_, ok := fs[string(id)]
	return ok
}

// Union returns a new set holding the members of both sets.
func (fs FailedSet) Union(other FailedSet) FailedSet {
	out := make(FailedSet, len(fs)+len(other))
	for id := range fs {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (fs FailedSet) Sorted() []string {
	ids := make([]string, 0, len(fs))
	for id := range fs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Outcome classifies what happened to a single item.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ItemOutcome describes the handling of one work item within a run.
type ItemOutcome struct {
	RunID    string
	Index    int
	ID       WorkItem
	Outcome  Outcome
	Result   ItemResult
	Attempts int
	Err      string
	At       time.Time
}

// plainAmount matches an amount made only of digits and decimal points.
var plainAmount = regexp.MustCompile(`^[0-9.]+$`)

// ParseAmount converts a billed amount as rendered by the portal into a
// number. Thousands separators and surrounding whitespace are ignored.
// Anything other than plain digits and a decimal point yields 0, including
// signs, exponents and NaN or Inf spellings.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if !plainAmount.MatchString(s) {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
