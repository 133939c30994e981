package harvest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
	"github.com/ahrav/billharvest/pkg/common/otel"
	"github.com/ahrav/billharvest/pkg/common/timeutil"
)

// DefaultFlushEvery is how many attempted items pass between result flushes.
const DefaultFlushEvery = 10

// ErrRunPanicked is the report error of a run that ended in a panic.
var ErrRunPanicked = errors.New("harvest run panicked")

// Runner executes a harvest run: it walks the work list from the persisted
// checkpoint, fetches each unseen identifier through the retry policy and
// persists progress as it goes. A Runner holds no per-run state and may
// execute any number of runs, one at a time.
type Runner struct {
	fetcher harvest.Fetcher
	source  harvest.WorkListSource
	stores  harvest.Stores
	retry   *RetryPolicy

	publisher  harvest.OutcomePublisher
	metrics    RunnerMetrics
	clock      timeutil.Provider
	flushEvery int

	logger *logger.Logger
	tracer trace.Tracer
}

// RunnerOption configures optional Runner collaborators.
type RunnerOption func(*Runner)

// WithFlushEvery sets how many attempted items pass between result flushes.
func WithFlushEvery(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.flushEvery = n
		}
	}
}

// WithPublisher publishes every item outcome through p.
func WithPublisher(p harvest.OutcomePublisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

// WithMetrics records runner metrics through m.
func WithMetrics(m RunnerMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(c timeutil.Provider) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithTracer traces runs and items through t.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner creates a Runner.
func NewRunner(
	fetcher harvest.Fetcher,
	source harvest.WorkListSource,
	stores harvest.Stores,
	retry *RetryPolicy,
	logger *logger.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		fetcher:    fetcher,
		source:     source,
		stores:     stores,
		retry:      retry,
		metrics:    NoopMetrics(),
		clock:      timeutil.Default(),
		flushEvery: DefaultFlushEvery,
		logger:     logger,
		tracer:     noop.NewTracerProvider().Tracer("harvest"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runState is the mutable state of one execution of Run.
type runState struct {
	handle  *RunHandle
	log     *logger.Logger
	session harvest.FetchSession

	items   []harvest.WorkItem
	results harvest.ResultSet
	failed  harvest.FailedSet
	status  harvest.ProgressStatus

	successes  int
	sinceFlush int
	report     RunReport
}

// Run executes one run to completion under h and returns its report. Per-item
// failures land in the FailedSet; only a fetcher that cannot be opened, an
// unreadable work list or a panic outside the fetch fail the run. A panic is
// never propagated to the caller.
func (r *Runner) Run(ctx context.Context, h *RunHandle) (report RunReport) {
	log := r.logger.With("run_id", h.ID().String())

	ctx, span := otel.AddSpan(ctx, r.tracer, "harvest.run", attribute.String("run_id", h.ID().String()))
	defer span.End()

	rs := &runState{handle: h, log: log, report: RunReport{RunID: h.ID()}}
	defer func() {
		if p := recover(); p != nil {
			report = r.recoverRun(ctx, rs, p)
			otel.RecordError(span, report.Err, "harvest run panicked")
		}
	}()

	r.metrics.SetRunActive(ctx, true)
	defer contain(ctx, log, "clearing run gauge", func() { r.metrics.SetRunActive(ctx, false) })

	session, err := r.fetcher.Open(ctx)
	if err != nil {
		if session != nil {
			_ = session.Close()
		}
		otel.RecordError(span, err, "acquiring fetcher failed")
		return r.fail(ctx, rs, fmt.Errorf("acquiring fetcher: %w", err))
	}
	rs.session = session
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn(ctx, "releasing fetcher", "error", err)
		}
	}()

	if rs.items, err = r.source.Load(ctx); err != nil {
		otel.RecordError(span, err, "loading work list failed")
		return r.fail(ctx, rs, fmt.Errorf("loading work list: %w", err))
	}

	if err := h.transition(harvest.RunStateRunning); err != nil {
		return r.fail(ctx, rs, err)
	}

	r.load(ctx, rs)

	start := min(rs.status.LastProcessedIndex, len(rs.items))
	log.Info(ctx, "harvest started",
		"items", len(rs.items),
		"resume_index", start,
		"known_results", len(rs.results),
		"known_failed", len(rs.failed),
	)

	final := r.loop(ctx, rs, start)

	// Final writes must land even when the run was cancelled by shutdown.
	r.flush(context.WithoutCancel(ctx), rs)

	now := r.clock.Now()
	rs.report.State = final
	rs.report.Elapsed = rs.status.Elapsed(now)
	rs.report.Throughput = rs.status.Throughput(now)
	if err := h.transition(final); err != nil {
		log.Error(ctx, "finishing run", "error", err)
	}
	r.metrics.IncRunsFinished(ctx, final)
	span.SetAttributes(
		attribute.String("final_state", final.String()),
		attribute.Int("succeeded", rs.report.Succeeded),
		attribute.Int("failed", rs.report.Failed),
	)

	log.Info(ctx, "harvest finished",
		"state", final.String(),
		"attempted", rs.report.Attempted,
		"succeeded", rs.report.Succeeded,
		"failed", rs.report.Failed,
		"skipped", rs.report.Skipped,
		"last_index", rs.report.LastIndex,
		"total_processed", rs.successes,
		"elapsed", rs.report.Elapsed,
		"items_per_hour", fmt.Sprintf("%.2f", rs.report.Throughput),
	)

	return rs.report
}

// load reads the durable state. Read failures degrade to empty state.
func (r *Runner) load(ctx context.Context, rs *runState) {
	var err error

	if rs.results, err = r.stores.Results.LoadResults(ctx); err != nil || rs.results == nil {
		if err != nil {
			rs.log.Warn(ctx, "loading results, starting empty", "error", err)
		}
		rs.results = harvest.NewResultSet()
	}

	if rs.failed, err = r.stores.Failed.LoadFailed(ctx); err != nil || rs.failed == nil {
		if err != nil {
			rs.log.Warn(ctx, "loading failed set, starting empty", "error", err)
		}
		rs.failed = harvest.NewFailedSet()
	}

	if rs.status, err = r.stores.Status.LoadStatus(ctx); err != nil {
		rs.log.Warn(ctx, "loading status, starting empty", "error", err)
		rs.status = harvest.NewProgressStatus()
	}
	rs.successes = rs.status.TotalProcessed
	rs.report.LastIndex = rs.status.LastProcessedIndex

	if rs.status.StartTime == nil {
		now := r.clock.Now()
		rs.status.StartTime = &now
		rs.status.LastUpdated = &now
		r.saveStatus(ctx, rs)
	}
}

// loop walks the work list from start and returns the terminal state.
func (r *Runner) loop(ctx context.Context, rs *runState, start int) harvest.RunState {
	h := rs.handle

	for i := start; i < len(rs.items); i++ {
		if h.Stopping() {
			rs.log.Info(ctx, "stop requested", "index", i)
			return harvest.RunStateStopped
		}

		if h.Paused() {
			if stop := r.park(ctx, rs, i); stop {
				return harvest.RunStateStopped
			}
		}

		if ctx.Err() != nil {
			return harvest.RunStateStopped
		}

		if err := r.process(ctx, rs, i, rs.items[i]); err != nil {
			// Only cancellation interrupts an item; leave it unrecorded so
			// the next run retries it.
			rs.log.Warn(ctx, "run interrupted", "index", i, "cid", rs.items[i].String(), "error", err)
			return harvest.RunStateStopped
		}

		r.checkpoint(ctx, rs, i+1)

		if rs.sinceFlush >= r.flushEvery {
			r.flush(ctx, rs)
		}
	}

	return harvest.RunStateCompleted
}

// park blocks while the run is paused. It returns true if the run should stop.
func (r *Runner) park(ctx context.Context, rs *runState, index int) bool {
	h := rs.handle
	if err := h.transition(harvest.RunStatePaused); err != nil {
		rs.log.Warn(ctx, "pausing run", "error", err)
	}
	rs.log.Info(ctx, "harvest paused", "index", index)

	if stop := h.WaitWhilePaused(ctx); stop {
		return true
	}

	if err := h.transition(harvest.RunStateRunning); err != nil {
		rs.log.Warn(ctx, "resuming run", "error", err)
	}
	rs.log.Info(ctx, "harvest resumed", "index", index)
	return false
}

// process handles a single work item. The returned error is non-nil only
// when ctx was cancelled mid-item.
func (r *Runner) process(ctx context.Context, rs *runState, index int, id harvest.WorkItem) error {
	if rs.results.Has(id) || rs.failed.Has(id) {
		rs.report.Skipped++
		r.metrics.IncItems(ctx, harvest.OutcomeSkipped)
		r.publish(ctx, rs, harvest.ItemOutcome{Index: index, ID: id, Outcome: harvest.OutcomeSkipped})
		return nil
	}

	ctx, span := otel.AddSpan(ctx, r.tracer, "harvest.item",
		attribute.String("cid", id.String()),
		attribute.Int("index", index),
	)
	defer span.End()

	begin := time.Now()
	res, attempts, err := r.retry.Do(ctx, rs.session, id)
	r.metrics.ObserveItemDuration(ctx, time.Since(begin))
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err != nil {
		if ctx.Err() != nil {
			otel.RecordError(span, err, "item interrupted")
			return err
		}

		rs.failed.Add(id)
		rs.report.Failed++
		rs.report.Attempted++
		rs.sinceFlush++
		r.metrics.IncItems(ctx, harvest.OutcomeFailed)
		otel.RecordError(span, err, "item failed")
		rs.log.Error(ctx, "item failed", "cid", id.String(), "index", index, "attempts", attempts, "error", err)
		r.publish(ctx, rs, harvest.ItemOutcome{
			Index: index, ID: id, Outcome: harvest.OutcomeFailed, Attempts: attempts, Err: err.Error(),
		})
		return nil
	}

	rs.results.Put(id, res)
	rs.successes++
	rs.report.Succeeded++
	rs.report.Attempted++
	rs.sinceFlush++
	r.metrics.IncItems(ctx, harvest.OutcomeSucceeded)
	rs.log.Info(ctx, "item harvested", "cid", id.String(), "index", index, "periods", len(res), "attempts", attempts)
	r.publish(ctx, rs, harvest.ItemOutcome{
		Index: index, ID: id, Outcome: harvest.OutcomeSucceeded, Result: res, Attempts: attempts,
	})
	return nil
}

// checkpoint persists the offset just past the most recently handled item.
func (r *Runner) checkpoint(ctx context.Context, rs *runState, next int) {
	now := r.clock.Now()
	rs.status.LastProcessedIndex = next
	rs.status.TotalProcessed = rs.successes
	rs.status.LastUpdated = &now
	rs.report.LastIndex = next

	r.saveStatus(ctx, rs)
	r.metrics.SetCheckpoint(ctx, next)
}

func (r *Runner) saveStatus(ctx context.Context, rs *runState) {
	if err := r.stores.Status.SaveStatus(ctx, rs.status); err != nil {
		r.metrics.IncStoreErrors(ctx, "status")
		rs.log.Error(ctx, "saving status", "error", err)
	}
}

// flush writes the accumulated result and failed sets.
func (r *Runner) flush(ctx context.Context, rs *runState) {
	if rs.results == nil {
		return
	}

	if err := r.stores.Results.SaveResults(ctx, rs.results); err != nil {
		r.metrics.IncStoreErrors(ctx, "results")
		rs.log.Error(ctx, "saving results", "error", err)
	}
	if err := r.stores.Failed.SaveFailed(ctx, rs.failed); err != nil {
		r.metrics.IncStoreErrors(ctx, "failed")
		rs.log.Error(ctx, "saving failed set", "error", err)
	}
	rs.sinceFlush = 0
	rs.log.Debug(ctx, "flushed results", "results", len(rs.results), "failed", len(rs.failed))
}

func (r *Runner) publish(ctx context.Context, rs *runState, o harvest.ItemOutcome) {
	if r.publisher == nil {
		return
	}
	o.RunID = rs.handle.ID().String()
	o.At = r.clock.Now()
	if err := r.publisher.PublishOutcome(ctx, o); err != nil {
		rs.log.Warn(ctx, "publishing item outcome", "cid", o.ID.String(), "error", err)
	}
}

// recoverRun ends a run that panicked. Accumulated results and failures are
// flushed before the handle is moved to FAILED.
func (r *Runner) recoverRun(ctx context.Context, rs *runState, p any) RunReport {
	err := fmt.Errorf("%w: %v", ErrRunPanicked, p)
	rs.log.Error(ctx, "harvest run panicked", "error", err, "stack", string(debug.Stack()))

	contain(ctx, rs.log, "final flush", func() { r.flush(context.WithoutCancel(ctx), rs) })

	if st := rs.handle.State(); st.IsTerminal() {
		rs.report.State = st
	} else {
		if terr := rs.handle.transition(harvest.RunStateFailed); terr != nil {
			rs.log.Error(ctx, "failing run", "error", errors.Join(err, terr))
		}
		rs.report.State = harvest.RunStateFailed
		contain(ctx, rs.log, "recording run outcome", func() {
			r.metrics.IncRunsFinished(ctx, harvest.RunStateFailed)
		})
	}
	rs.report.Err = err
	return rs.report
}

// contain runs fn and logs a panic from it instead of propagating it.
func contain(ctx context.Context, log *logger.Logger, what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Error(ctx, "panic while "+what, "panic", fmt.Sprint(p))
		}
	}()
	fn()
}

// fail ends a run that never reached its item loop.
func (r *Runner) fail(ctx context.Context, rs *runState, err error) RunReport {
	rs.log.Error(ctx, "harvest failed", "error", err)
	if terr := rs.handle.transition(harvest.RunStateFailed); terr != nil {
		rs.log.Error(ctx, "failing run", "error", errors.Join(err, terr))
	}
	r.metrics.IncRunsFinished(ctx, harvest.RunStateFailed)
	rs.report.State = harvest.RunStateFailed
	rs.report.Err = err
	return rs.report
}
