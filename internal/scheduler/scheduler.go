// Package scheduler decides when a quote's layout is recomputed.
//
// Piece edits arrive in bursts. Schedule coalesces them: the first call arms
// a debounce timer, later calls only replace the pending snapshot, and when
// the timer fires one run packs the newest snapshot. At most one run per
// quote is in flight; edits made while it runs are picked up by exactly one
// follow-up run when it completes. Optimise goes through the same per-quote
// state: it supersedes any snapshot still waiting out its debounce and
// queues behind an in-flight run.
//
// Every run takes a sequence number from the store when it starts and the
// store accepts its result only if that sequence is newer than the committed
// one, so a slow run can never overwrite a fresher layout.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/piwi3910/SlabQuote/internal/logging"
	"github.com/piwi3910/SlabQuote/internal/model"
	"github.com/piwi3910/SlabQuote/internal/store"
)

// Defaults for Options.
const (
	DefaultDebounce = time.Second
	DefaultTimeout  = 10 * time.Second
)

// Engine computes a layout for a snapshot. *engine.Optimizer implements it.
type Engine interface {
	Optimise(snap model.Snapshot) (model.OptimizationResult, error)
}

// State is the per-quote scheduler state.
type State string

const (
	StateIdle       State = "idle"
	StateOptimising State = "optimising"
	StateError      State = "error"
)

// Status is a point-in-time view of one quote.
type Status struct {
	QuoteID    string                    `json:"quoteId"`
	State      State                     `json:"state"`
	Pending    bool                      `json:"pending"`
	Runs       int                       `json:"runs"`
	Sequence   int64                     `json:"sequence"`
	LastError  string                    `json:"lastError,omitempty"`
	LastResult *model.OptimizationResult `json:"lastResult,omitempty"`
}

// CommitHook is called after a result has been accepted by the store.
type CommitHook func(ctx context.Context, result model.OptimizationResult)

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	Debounce time.Duration
	Timeout  time.Duration
	Logger   *log.Logger
	OnCommit CommitHook
}

type quoteState struct {
	pending  *model.Snapshot
	timer    *time.Timer
	timerGen uint64
	inFlight bool
	idle     chan struct{} // closed when the in-flight run finishes
	waiters  int           // Optimise calls queued behind the in-flight run
	state    State
	lastErr  error
	runs     int
}

// Scheduler owns the per-quote state machines.
type Scheduler struct {
	store    store.Store
	engine   Engine
	debounce time.Duration
	timeout  time.Duration
	logger   *log.Logger
	onCommit CommitHook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	quotes map[string]*quoteState
	closed bool
}

func New(st store.Store, eng Engine, opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	logger := opts.Logger.WithPrefix("scheduler")
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	return &Scheduler{
		store:    st,
		engine:   eng,
		debounce: opts.Debounce,
		timeout:  opts.Timeout,
		logger:   logger,
		onCommit: opts.OnCommit,
		ctx:      ctx,
		cancel:   cancel,
		quotes:   make(map[string]*quoteState),
	}
}

// ErrClosed is returned by Schedule and Optimise after Close.
var ErrClosed = errors.New("scheduler closed")

// Schedule records snap as the quote's pending snapshot and arms the
// debounce timer if it is not already armed. It never blocks on a run.
func (s *Scheduler) Schedule(quoteID string, snap model.Snapshot) error {
	if quoteID == "" {
		return model.NewInputError("quote id is required")
	}
	pending := snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	qs := s.quote(quoteID)
	qs.pending = &pending
	armed := qs.timer == nil
	if armed {
		qs.timerGen++
		gen := qs.timerGen
		qs.timer = time.AfterFunc(s.debounce, func() { s.fire(quoteID, gen) })
	}
	RecordSchedule(armed)
	s.logger.Debug("change scheduled", "quote", quoteID, "armed", armed, "inFlight", qs.inFlight)
	return nil
}

// Optimise runs the engine synchronously and commits the result. A
// scheduled snapshot still waiting out its debounce is dropped in favour of
// snap, and a run already in flight for the quote finishes first. When a
// newer layout was committed in the meantime, that layout is returned.
func (s *Scheduler) Optimise(ctx context.Context, quoteID string, snap model.Snapshot) (model.OptimizationResult, error) {
	if quoteID == "" {
		return model.OptimizationResult{}, model.NewInputError("quote id is required")
	}
	snap = snap.Clone()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.OptimizationResult{}, ErrClosed
	}
	qs := s.quote(quoteID)
	if qs.timer != nil {
		qs.timer.Stop()
		qs.timer = nil
	}
	qs.pending = nil
	qs.waiters++
	for qs.inFlight {
		idle := qs.idle
		s.mu.Unlock()
		var err error
		select {
		case <-idle:
		case <-ctx.Done():
			err = ctx.Err()
		}
		s.mu.Lock()
		if err == nil && s.closed {
			err = ErrClosed
		}
		if err != nil {
			qs.waiters--
			s.resumeLocked(quoteID, qs)
			s.mu.Unlock()
			return model.OptimizationResult{}, err
		}
	}
	qs.waiters--
	s.claimLocked(qs)
	s.mu.Unlock()

	res, err := s.execute(ctx, quoteID, snap)

	s.mu.Lock()
	s.releaseLocked(quoteID, qs, err)
	s.mu.Unlock()

	if errors.Is(err, model.ErrStaleWrite) {
		if latest, lerr := s.store.Latest(ctx, quoteID); lerr == nil {
			return latest, nil
		}
		return res, nil
	}
	return res, err
}

// Latest returns the committed layout, or model.ErrNotFound.
func (s *Scheduler) Latest(ctx context.Context, quoteID string) (model.OptimizationResult, error) {
	return s.store.Latest(ctx, quoteID)
}

// Status reports the quote's state together with its last committed layout.
func (s *Scheduler) Status(ctx context.Context, quoteID string) (Status, error) {
	st := Status{QuoteID: quoteID, State: StateIdle}

	s.mu.Lock()
	if qs, ok := s.quotes[quoteID]; ok {
		st.State = qs.state
		st.Pending = qs.pending != nil
		st.Runs = qs.runs
		if qs.lastErr != nil {
			st.LastError = qs.lastErr.Error()
		}
	}
	s.mu.Unlock()

	latest, err := s.store.Latest(ctx, quoteID)
	switch {
	case err == nil:
		st.LastResult = &latest
		st.Sequence = latest.Sequence
	case !errors.Is(err, model.ErrNotFound):
		return st, err
	}
	return st, nil
}

// Close stops all timers, drops pending snapshots and waits for in-flight
// background runs to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, qs := range s.quotes {
		if qs.timer != nil {
			qs.timer.Stop()
			qs.timer = nil
		}
		qs.pending = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// quote returns the state for quoteID, creating it. Callers hold s.mu.
func (s *Scheduler) quote(quoteID string) *quoteState {
	qs, ok := s.quotes[quoteID]
	if !ok {
		qs = &quoteState{state: StateIdle}
		s.quotes[quoteID] = qs
	}
	return qs
}

// fire runs when the debounce timer armed as generation gen expires. A timer
// stopped by Optimise may still fire; it is ignored.
func (s *Scheduler) fire(quoteID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	qs := s.quote(quoteID)
	if qs.timer == nil || qs.timerGen != gen {
		return
	}
	qs.timer = nil
	// With a run in flight, its completion picks the pending snapshot up.
	s.resumeLocked(quoteID, qs)
}

// resumeLocked launches a background run for the pending snapshot once the
// quote is free: no armed timer, no run in flight and no queued Optimise.
// Callers hold s.mu.
func (s *Scheduler) resumeLocked(quoteID string, qs *quoteState) {
	if s.closed || qs.pending == nil || qs.timer != nil || qs.inFlight || qs.waiters > 0 {
		return
	}
	snap := *qs.pending
	qs.pending = nil
	s.claimLocked(qs)

	s.wg.Add(1)
	go s.run(quoteID, snap)
}

// claimLocked marks a run in flight. Callers hold s.mu.
func (s *Scheduler) claimLocked(qs *quoteState) {
	qs.inFlight = true
	qs.idle = make(chan struct{})
	qs.state = StateOptimising
}

// releaseLocked records a finished run, wakes queued Optimise calls and
// starts a follow-up for edits made meanwhile. Callers hold s.mu.
func (s *Scheduler) releaseLocked(quoteID string, qs *quoteState, err error) {
	qs.inFlight = false
	close(qs.idle)
	qs.idle = nil
	qs.runs++
	s.settle(qs, err)
	s.resumeLocked(quoteID, qs)
}

func (s *Scheduler) run(quoteID string, snap model.Snapshot) {
	defer s.wg.Done()

	_, err := s.execute(s.ctx, quoteID, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(quoteID, s.quote(quoteID), err)
}

// settle records a finished run. A stale write is not a failure. Callers
// hold s.mu.
func (s *Scheduler) settle(qs *quoteState, err error) {
	if err != nil && !errors.Is(err, model.ErrStaleWrite) {
		qs.state = StateError
		qs.lastErr = err
		return
	}
	qs.lastErr = nil
	qs.state = StateIdle
}

type outcome struct {
	result model.OptimizationResult
	err    error
}

// execute allocates a sequence, runs the engine under the time budget and
// commits. It returns model.ErrStaleWrite when the guard rejects the result.
func (s *Scheduler) execute(ctx context.Context, quoteID string, snap model.Snapshot) (model.OptimizationResult, error) {
	logger := s.logger
	started := time.Now()
	elapsed := func() float64 { return time.Since(started).Seconds() }

	inFlight.Inc()
	defer inFlight.Dec()

	seq, err := s.store.NextSequence(ctx, quoteID)
	if err != nil {
		RecordRun(outcomeError, elapsed())
		return model.OptimizationResult{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// A run that outlives its budget keeps going on this goroutine; its
	// result lands in the buffered channel and is dropped.
	done := make(chan outcome, 1)
	go func() {
		res, err := s.engine.Optimise(snap)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			RecordRun(outcomeTimeout, elapsed())
			logger.Warn("optimisation timed out", "quote", quoteID, "seq", seq, "budget", s.timeout)
			return model.OptimizationResult{}, model.NewTimeoutError("optimisation of %s exceeded %s", quoteID, s.timeout)
		}
		RecordRun(outcomeError, elapsed())
		return model.OptimizationResult{}, runCtx.Err()
	}
	if out.err != nil {
		RecordRun(outcomeError, elapsed())
		logger.Warn("optimisation failed", "quote", quoteID, "seq", seq, "err", out.err)
		return model.OptimizationResult{}, out.err
	}

	res := out.result
	res.QuoteID = quoteID
	res.Sequence = seq
	res.CreatedAt = time.Now().UTC()

	if err := s.store.Commit(ctx, res); err != nil {
		if errors.Is(err, model.ErrStaleWrite) {
			RecordStaleWrite()
			RecordRun(outcomeStale, elapsed())
			logger.Debug("discarded stale layout", "quote", quoteID, "seq", seq)
			return res, err
		}
		RecordRun(outcomeError, elapsed())
		logger.Error("commit failed", "quote", quoteID, "seq", seq, "err", err)
		return model.OptimizationResult{}, err
	}

	RecordRun(outcomeCommitted, elapsed())
	RecordSlabsUsed(res.TotalSlabs)
	logger.Info("layout committed",
		"quote", quoteID,
		"seq", seq,
		"slabs", res.TotalSlabs,
		"waste", res.WastePercent,
		"unplaced", len(res.UnplacedPieces),
		"duration", time.Since(started).Round(time.Millisecond))

	if s.onCommit != nil {
		s.onCommit(ctx, res)
	}
	return res, nil
}
