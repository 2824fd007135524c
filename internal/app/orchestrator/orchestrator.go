// Package orchestrator drives the two indexing cycles of a pipeline within
// one partition: discovery materializes the lines of every batch, fill
// resolves the detail of one line per pass. Both cycles share a cursor and
// exclude each other through the partition's lock table.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/app/provider"
	"github.com/coachpo/yieldcache/internal/domain/cursor"
	"github.com/coachpo/yieldcache/internal/domain/registry"
	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/coldstore"
	"github.com/coachpo/yieldcache/internal/infra/durable"
	"github.com/coachpo/yieldcache/internal/infra/lock"
	"github.com/coachpo/yieldcache/internal/infra/retry"
	"github.com/coachpo/yieldcache/internal/infra/telemetry"
	"github.com/coachpo/yieldcache/internal/observability"
)

// Deps are the collaborators of one orchestrator. Locks and Durable are
// partition-scoped and usually shared by every pipeline of the partition.
type Deps struct {
	Partition  resource.Partition
	Adapter    provider.Adapter
	Enumerator registry.Enumerator
	Locks      *lock.Table
	Resolver   *Resolver
	// Cursor is created when nil.
	Cursor *cursor.Cursor
	// Checkpoint retries cursor persistence; DefaultPolicy when zero.
	Checkpoint retry.Policy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger injects a logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithInstruments records pass metrics on inst.
func WithInstruments(inst *telemetry.Instruments) Option {
	return func(o *Orchestrator) {
		o.instruments = inst
	}
}

// WithClock overrides the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs discovery and fill passes for one pipeline in one partition.
type Orchestrator struct {
	pipeline   Pipeline
	partition  resource.Partition
	adapter    provider.Adapter
	enumerator registry.Enumerator
	locks      *lock.Table
	resolver   *Resolver
	cursor     *cursor.Cursor
	checkpoint retry.Policy

	logger      *log.Logger
	instruments *telemetry.Instruments
	now         func() time.Time

	// discoverPending is set while a discovery pass waits for the fill lock;
	// fill passes yield until discovery has run.
	discoverPending atomic.Bool

	mu           sync.Mutex
	lastDiscover *DiscoverReport
	lastFill     *FillReport
}

// New validates the pipeline and dependencies.
func New(pipeline Pipeline, deps Deps, opts ...Option) (*Orchestrator, error) {
	pipeline = pipeline.Normalize()
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Partition.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Adapter == nil:
		return nil, fmt.Errorf("orchestrator %s: adapter required", pipeline.Name)
	case deps.Enumerator == nil:
		return nil, fmt.Errorf("orchestrator %s: enumerator required", pipeline.Name)
	case deps.Locks == nil:
		return nil, fmt.Errorf("orchestrator %s: lock table required", pipeline.Name)
	case deps.Resolver == nil || deps.Resolver.Durable == nil:
		return nil, fmt.Errorf("orchestrator %s: resolver with durable store required", pipeline.Name)
	}
	if deps.Locks.Partition() != deps.Partition || deps.Resolver.Durable.Partition() != deps.Partition {
		return nil, errs.New("orchestrator", errs.CodeInvalid,
			errs.WithMessage("lock table and durable store must belong to the orchestrator partition"),
			errs.WithField("partition", deps.Partition.String()))
	}
	checkpoint := deps.Checkpoint
	if checkpoint.InitialDelay == 0 && checkpoint.MaxRetries == 0 {
		checkpoint = retry.DefaultPolicy()
	}
	o := &Orchestrator{
		pipeline:        pipeline,
		partition:       deps.Partition,
		adapter:         deps.Adapter,
		enumerator:      deps.Enumerator,
		locks:           deps.Locks,
		resolver:        deps.Resolver,
		cursor:          deps.Cursor,
		checkpoint:      checkpoint,
		logger:          log.New(os.Stdout, "orchestrator ", log.LstdFlags|log.Lmicroseconds),
		instruments:     nil,
		now:             time.Now,
		discoverPending: atomic.Bool{},
		mu:              sync.Mutex{},
		lastDiscover:    nil,
		lastFill:        nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.cursor == nil {
		o.cursor = cursor.New(cursor.WithLogger(o.logger))
	}
	return o, nil
}

// Pipeline returns the normalized pipeline definition.
func (o *Orchestrator) Pipeline() Pipeline {
	return o.pipeline
}

// Partition returns the orchestrator's partition.
func (o *Orchestrator) Partition() resource.Partition {
	return o.partition
}

// Cursor exposes the cursor for read-only inspection.
func (o *Orchestrator) Cursor() *cursor.Cursor {
	return o.cursor
}

// DiscoverReport summarises one discovery pass.
type DiscoverReport struct {
	PassID       string        `json:"passId"`
	Skipped      bool          `json:"skipped"`
	Batches      int           `json:"batches"`
	Materialized int           `json:"materialized"`
	Failed       int           `json:"failed"`
	Restarted    bool          `json:"restarted"`
	Err          error         `json:"-"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	Elapsed      time.Duration `json:"elapsed"`
}

// FillReport summarises one fill pass.
type FillReport struct {
	PassID    string          `json:"passId"`
	Skipped   bool            `json:"skipped"`
	Idle      bool            `json:"idle"`
	Position  cursor.Position `json:"position"`
	LineID    string          `json:"lineId,omitempty"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"startedAt"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// Discover runs one discovery pass over the whole domain, starting at the
// cursor's batch index and wrapping at the end. It is skipped without side
// effects while another discovery or fill pass of the pipeline holds its
// lock; fill passes then yield until a discovery has run. Failures of
// individual batches are reported in the result; the returned error is set
// only when the pass itself could not run, e.g. the partition has no registry.
func (o *Orchestrator) Discover(ctx context.Context) (DiscoverReport, error) {
	report := DiscoverReport{PassID: uuid.NewString(), StartedAt: o.now()}
	ran, err := o.locks.WithLocks(ctx,
		[]lock.Key{o.pipeline.DiscoverLock(), o.pipeline.FillLock()},
		[]lock.Key{o.pipeline.DiscoverLock()},
		[]lock.Key{o.pipeline.DiscoverLock()},
		func(ctx context.Context) error {
			return o.discover(ctx, &report)
		})
	report.Elapsed = o.now().Sub(report.StartedAt)
	if !ran {
		o.discoverPending.Store(true)
		report.Skipped = true
		o.recordPass(ctx, telemetry.PhaseDiscover, telemetry.ResultSkipped, report.Elapsed)
		return report, nil
	}
	result := telemetry.ResultSuccess
	if err != nil || report.Failed > 0 {
		result = telemetry.ResultFailure
	}
	if report.Err != nil {
		report.Error = report.Err.Error()
	}
	o.recordPass(ctx, telemetry.PhaseDiscover, result, report.Elapsed)
	o.mu.Lock()
	snapshot := report
	o.lastDiscover = &snapshot
	o.mu.Unlock()
	return report, err
}

type batchResult struct {
	index int
	batch resource.BatchUnit
	lines resource.Lines
	err   error
}

func (o *Orchestrator) discover(ctx context.Context, report *DiscoverReport) error {
	o.discoverPending.Store(false)
	fields := []observability.Field{
		observability.F("partition", o.partition),
		observability.F("pipeline", o.pipeline.Name),
		observability.F("pass", report.PassID),
	}
	batches, err := o.enumerator.OrderedBatches(ctx, o.partition)
	if err != nil {
		report.Err = err
		o.logger.Printf("discover skipped %s: %v", observability.FormatFields(fields...), err)
		return fmt.Errorf("enumerate batches: %w", err)
	}
	total := len(batches)
	report.Batches = total
	if total == 0 {
		o.logger.Printf("discover %s: empty domain", observability.FormatFields(fields...))
		return nil
	}

	if o.cursor.RestartSweepIfDrained() {
		report.Restarted = true
		o.logger.Printf("fill sweep drained, restarting %s", observability.FormatFields(fields...))
	}
	o.cursor.ResetBatchIfAtEnd(total)
	var failures []error
	for visited := 0; visited < total; {
		if err := ctx.Err(); err != nil {
			report.Err = err
			return err
		}
		start := o.cursor.CurrentBatch()
		end := min(start+o.pipeline.Concurrency, total, start+total-visited)
		for _, res := range o.resolveWindow(ctx, batches, start, end) {
			if res.err != nil {
				report.Failed++
				failures = append(failures, fmt.Errorf("batch %d (%s): %w", res.index, res.batch.ID(), res.err))
				o.logger.Printf("discover batch failed %s batch=%d id=%s: %v",
					observability.FormatFields(fields...), res.index, res.batch.ID(), res.err)
				continue
			}
			o.cursor.SetMaterializedBatch(res.index, res.lines)
			report.Materialized++
		}
		for i := start; i < end; i++ {
			o.cursor.AdvanceBatch()
		}
		visited += end - start
		o.cursor.ResetBatchIfAtEnd(total)
		o.persistCheckpoint(ctx)
	}
	o.saveColdCheckpoint(ctx)

	report.Err = observability.AggregateErrors("discover", failures,
		append(fields, observability.F("batches", total))...)
	o.logger.Printf("discover done %s batches=%d materialized=%d failed=%d restarted=%t",
		observability.FormatFields(fields...), total, report.Materialized, report.Failed, report.Restarted)
	return nil
}

func (o *Orchestrator) resolveWindow(ctx context.Context, batches []resource.BatchUnit, start, end int) []batchResult {
	p := pool.NewWithResults[batchResult]().WithMaxGoroutines(end - start)
	for i := start; i < end; i++ {
		idx := i
		batch := batches[i]
		p.Go(func() batchResult {
			res := batchResult{index: idx, batch: batch, lines: nil, err: nil}
			defer func() {
				if r := recover(); r != nil {
					res.err = fmt.Errorf("discover panic: %v", r)
				}
			}()
			res.lines, res.err = o.resolveLines(ctx, batch)
			return res
		})
	}
	return p.Wait()
}

func (o *Orchestrator) resolveLines(ctx context.Context, batch resource.BatchUnit) (resource.Lines, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	key := o.pipeline.BatchKey(o.partition, batch)
	return Resolve(ctx, o.resolver, key, o.pipeline.LinesTTL, func(ctx context.Context) (resource.Lines, error) {
		lines, err := o.adapter.DiscoverBatchLines(ctx, o.partition, batch)
		if err != nil {
			return nil, err
		}
		return lines, lines.Validate()
	})
}

// Fill resolves the next unfilled line, if any. The line index advances
// whether or not the detail could be resolved, so one failing line never
// stalls the sweep. When nothing is left to fill the pass is idle and takes
// no lock; while a discovery waits for the lock the pass is skipped.
// Resolution failures are reported in the result; the returned error is set
// only for cursor invariant violations.
func (o *Orchestrator) Fill(ctx context.Context) (FillReport, error) {
	report := FillReport{PassID: uuid.NewString(), StartedAt: o.now()}
	if o.discoverPending.Load() {
		report.Skipped = true
		o.recordPass(ctx, telemetry.PhaseFill, telemetry.ResultSkipped, 0)
		return report, nil
	}
	if _, ok, err := o.cursor.FindNextUnfilledLine(); err == nil && !ok {
		report.Idle = true
		o.recordPass(ctx, telemetry.PhaseFill, telemetry.ResultIdle, o.now().Sub(report.StartedAt))
		o.rememberFill(report)
		return report, nil
	}
	ran, err := o.locks.WithLocks(ctx,
		[]lock.Key{o.pipeline.DiscoverLock(), o.pipeline.FillLock()},
		[]lock.Key{o.pipeline.FillLock()},
		[]lock.Key{o.pipeline.FillLock()},
		func(ctx context.Context) error {
			return o.fill(ctx, &report)
		})
	report.Elapsed = o.now().Sub(report.StartedAt)
	if !ran {
		report.Skipped = true
		o.recordPass(ctx, telemetry.PhaseFill, telemetry.ResultSkipped, report.Elapsed)
		return report, nil
	}
	if report.Err != nil {
		report.Error = report.Err.Error()
	}
	result := telemetry.ResultSuccess
	switch {
	case err != nil || report.Err != nil:
		result = telemetry.ResultFailure
	case report.Idle:
		result = telemetry.ResultIdle
	}
	o.recordPass(ctx, telemetry.PhaseFill, result, report.Elapsed)
	o.rememberFill(report)
	return report, err
}

func (o *Orchestrator) rememberFill(report FillReport) {
	o.mu.Lock()
	o.lastFill = &report
	o.mu.Unlock()
}

func (o *Orchestrator) fill(ctx context.Context, report *FillReport) (err error) {
	pos, ok, err := o.cursor.FindNextUnfilledLine()
	if err != nil {
		report.Err = err
		o.logger.Printf("fill aborted partition=%s pipeline=%s pass=%s stats=%+v: %v",
			o.partition, o.pipeline.Name, report.PassID, o.cursor.Stats(), err)
		return err
	}
	if !ok {
		report.Idle = true
		return nil
	}
	report.Position = pos
	line, err := o.cursor.LineAt(pos)
	if err != nil {
		report.Err = err
		return err
	}
	report.LineID = line.ID

	defer func() {
		if _, advErr := o.cursor.AdvanceLine(pos.Batch); advErr != nil {
			o.logger.Printf("fill advance failed partition=%s pipeline=%s pass=%s batch=%d: %v",
				o.partition, o.pipeline.Name, report.PassID, pos.Batch, advErr)
			err = errors.Join(err, advErr)
			return
		}
		o.persistCheckpoint(ctx)
	}()

	if _, resolveErr := o.resolveDetail(ctx, line); resolveErr != nil {
		report.Err = resolveErr
		o.logger.Printf("fill line failed partition=%s pipeline=%s pass=%s batch=%d line=%d id=%s: %v",
			o.partition, o.pipeline.Name, report.PassID, pos.Batch, pos.Line, line.ID, resolveErr)
	}
	return nil
}

func (o *Orchestrator) resolveDetail(ctx context.Context, line resource.LineUnit) (resource.Detail, error) {
	key := o.pipeline.DetailKey(o.partition, line.ID)
	return Resolve(ctx, o.resolver, key, o.pipeline.DetailTTL, func(ctx context.Context) (resource.Detail, error) {
		detail, err := o.adapter.FetchLineDetail(ctx, o.partition, line)
		if err != nil {
			return resource.Detail{}, err
		}
		return detail, detail.Validate()
	})
}

// Restore rehydrates the cursor from the durable checkpoint, falling back to
// the cold checkpoint, else leaves it empty. It reports which source was used.
func (o *Orchestrator) Restore(ctx context.Context) (string, error) {
	domainLength := -1
	if batches, err := o.enumerator.OrderedBatches(ctx, o.partition); err == nil {
		domainLength = len(batches)
	} else {
		o.logger.Printf("restore partition=%s pipeline=%s: domain unknown: %v", o.partition, o.pipeline.Name, err)
	}
	key := o.pipeline.CheckpointKey(o.partition)

	st, ok, err := durable.Fetch[cursor.State](ctx, o.resolver.Durable, key)
	switch {
	case err != nil:
		o.logger.Printf("restore partition=%s pipeline=%s: durable checkpoint unreadable: %v", o.partition, o.pipeline.Name, err)
	case ok:
		if err := o.cursor.Restore(st, domainLength); err != nil {
			o.logger.Printf("restore partition=%s pipeline=%s: durable checkpoint rejected: %v", o.partition, o.pipeline.Name, err)
			break
		}
		return "durable", nil
	}

	if o.resolver.Cold != nil {
		st, _, err := coldstore.Load[cursor.State](o.resolver.Cold, key)
		switch {
		case errors.Is(err, coldstore.ErrNoSnapshot):
		case err != nil:
			o.logger.Printf("restore partition=%s pipeline=%s: cold checkpoint unreadable: %v", o.partition, o.pipeline.Name, err)
		default:
			if err := o.cursor.Restore(st, domainLength); err != nil {
				o.logger.Printf("restore partition=%s pipeline=%s: cold checkpoint rejected: %v", o.partition, o.pipeline.Name, err)
				break
			}
			return "cold", nil
		}
	}
	return "empty", ctx.Err()
}

func (o *Orchestrator) persistCheckpoint(ctx context.Context) {
	st := o.cursor.Snapshot()
	key := o.pipeline.CheckpointKey(o.partition)
	err := retry.Run(ctx, o.checkpoint, func(ctx context.Context) error {
		return durable.Set(ctx, o.resolver.Durable, key, st, 0)
	})
	if err != nil {
		o.logger.Printf("checkpoint not persisted partition=%s pipeline=%s: %v", o.partition, o.pipeline.Name, err)
	}
}

func (o *Orchestrator) saveColdCheckpoint(ctx context.Context) {
	if o.resolver.Cold == nil {
		return
	}
	key := o.pipeline.CheckpointKey(o.partition)
	if err := coldstore.Save(ctx, o.resolver.Cold, key, o.cursor.Snapshot()); err != nil {
		o.logger.Printf("cold checkpoint not saved partition=%s pipeline=%s: %v", o.partition, o.pipeline.Name, err)
	}
}

func (o *Orchestrator) recordPass(ctx context.Context, phase, result string, elapsed time.Duration) {
	o.instruments.Pass(ctx, telemetry.PassAttributes(o.partition.String(), o.pipeline.Name, phase), result, elapsed)
}

// Status is a point-in-time view for operators.
type Status struct {
	Partition    string          `json:"partition"`
	Pipeline     string          `json:"pipeline"`
	Adapter      string          `json:"adapter"`
	Cursor       cursor.Stats    `json:"cursor"`
	Locks        []string        `json:"locks"`
	LastDiscover *DiscoverReport `json:"lastDiscover,omitempty"`
	LastFill     *FillReport     `json:"lastFill,omitempty"`
}

// Status reports the cursor position, the pipeline's held locks and the last passes.
func (o *Orchestrator) Status() Status {
	locks := make([]string, 0, 2)
	for _, k := range []lock.Key{o.pipeline.DiscoverLock(), o.pipeline.FillLock()} {
		if o.locks.IsLocked(k) {
			locks = append(locks, string(k))
		}
	}
	st := Status{
		Partition:    o.partition.String(),
		Pipeline:     o.pipeline.Name,
		Adapter:      o.adapter.Name(),
		Cursor:       o.cursor.Stats(),
		Locks:        locks,
		LastDiscover: nil,
		LastFill:     nil,
	}
	o.mu.Lock()
	if o.lastDiscover != nil {
		d := *o.lastDiscover
		st.LastDiscover = &d
	}
	if o.lastFill != nil {
		f := *o.lastFill
		st.LastFill = &f
	}
	o.mu.Unlock()
	return st
}
