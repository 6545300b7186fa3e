// Package scheduler decides when each strategy evolves and runs the
// candidate pipeline end to end: trigger detection, candidate generation,
// validation, and the commit decision. A weighted semaphore caps how many
// evolutions run at once and a per-strategy cooldown stops thrash.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/evolution"
	"github.com/ajitpratap0/evofunk/internal/fitness"
	"github.com/ajitpratap0/evofunk/internal/metrics"
	"github.com/ajitpratap0/evofunk/internal/store"
	"github.com/ajitpratap0/evofunk/internal/strategy"
	"github.com/ajitpratap0/evofunk/internal/validation"
)

// Trigger classifies why an evolution task was scheduled
type Trigger string

const (
	TriggerUrgent  Trigger = "urgent"
	TriggerRoutine Trigger = "routine"
	TriggerRefresh Trigger = "refresh"
	TriggerManual  Trigger = "manual"
)

// triggerPriority orders dequeueing; lower dequeues first
var triggerPriority = map[Trigger]int{
	TriggerUrgent:  0,
	TriggerRoutine: 1,
	TriggerRefresh: 2,
}

// TaskState tracks an evolution task through its lifecycle
type TaskState string

const (
	StateQueued   TaskState = "queued"
	StateRunning  TaskState = "running"
	StateApplied  TaskState = "applied"
	StateRejected TaskState = "rejected"
	StateFailed   TaskState = "failed"
)

// Task is one scheduled evolution attempt for one strategy
type Task struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategy_id"`
	Trigger    Trigger   `json:"trigger"`
	State      TaskState `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	OldFitness float64   `json:"old_fitness"`
	NewFitness float64   `json:"new_fitness,omitempty"`
}

// ReasonCode classifies why a manual evolution did not apply. The API
// layer maps codes to HTTP statuses instead of parsing reason text.
type ReasonCode string

const (
	ReasonNotFound ReasonCode = "not_found"
	ReasonRetired  ReasonCode = "retired"
	ReasonBusy     ReasonCode = "busy"
	ReasonRejected ReasonCode = "rejected"
	ReasonFailed   ReasonCode = "failed"
)

// Result is the outcome of a manually triggered evolution. It is always
// returned, never panicked, across the API boundary.
type Result struct {
	Success    bool       `json:"success"`
	Code       ReasonCode `json:"code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	OldFitness float64    `json:"old_fitness"`
	NewFitness float64    `json:"new_fitness,omitempty"`
	EventID    string     `json:"event_id,omitempty"`
}

// PerformanceFeed supplies observed metrics for a strategy. The feed
// package provides Redis-backed and mock implementations.
type PerformanceFeed interface {
	Snapshot(ctx context.Context, s *strategy.Strategy) (strategy.MetricsBundle, float64, error)
}

// EventSink receives committed evolution events. The websocket hub, the
// NATS publisher, and the alert manager all register as sinks.
type EventSink interface {
	EvolutionCommitted(ev *strategy.EvolutionEvent)
}

// ProtectionNotifier receives protection elevation alerts
type ProtectionNotifier interface {
	NotifyProtection(s *strategy.Strategy, level strategy.ProtectionLevel)
}

// LifecycleChecker re-evaluates lifecycle gates after an applied evolution
type LifecycleChecker interface {
	Evaluate(ctx context.Context) error
}

// Scheduler owns the evolution and metrics loops
type Scheduler struct {
	layer     *store.Layer
	generator *evolution.Generator
	runner    *validation.Runner
	feed      PerformanceFeed
	lifecycle LifecycleChecker
	goals     fitness.Goals
	cfg       config.EvolutionConfig
	log       zerolog.Logger
	clock     func() time.Time

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu          sync.Mutex
	queue       []*Task
	pending     map[string]*Task // strategyID -> queued or running task
	lastAttempt map[string]time.Time
	sinks       []EventSink
	protection  ProtectionNotifier
}

// New builds a scheduler. lifecycle and feed may be nil in tests.
func New(layer *store.Layer, generator *evolution.Generator, runner *validation.Runner, feed PerformanceFeed, lc LifecycleChecker, goals fitness.Goals, cfg config.EvolutionConfig) *Scheduler {
	return &Scheduler{
		layer:       layer,
		generator:   generator,
		runner:      runner,
		feed:        feed,
		lifecycle:   lc,
		goals:       goals,
		cfg:         cfg,
		log:         config.NewLogger("scheduler"),
		clock:       func() time.Time { return time.Now().UTC() },
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		pending:     make(map[string]*Task),
		lastAttempt: make(map[string]time.Time),
	}
}

// AddSink registers a receiver for committed evolution events
func (s *Scheduler) AddSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// SetProtectionNotifier registers the receiver for protection alerts
func (s *Scheduler) SetProtectionNotifier(n ProtectionNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protection = n
}

// Run drives the two loops until the context is cancelled: a fast metrics
// collection loop and a slower evolution check loop.
func (s *Scheduler) Run(ctx context.Context) error {
	checkTicker := time.NewTicker(s.cfg.CheckInterval)
	defer checkTicker.Stop()
	metricsTicker := time.NewTicker(s.cfg.MetricsInterval)
	defer metricsTicker.Stop()

	s.log.Info().
		Dur("check_interval", s.cfg.CheckInterval).
		Dur("metrics_interval", s.cfg.MetricsInterval).
		Int("max_concurrent", s.cfg.MaxConcurrent).
		Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-metricsTicker.C:
			s.CollectMetrics(ctx)
		case <-checkTicker.C:
			s.Scan(ctx)
			s.Dispatch(ctx)
		}
	}
}

// CollectMetrics refreshes every live strategy's performance snapshot
// from the feed and recomputes its fitness
func (s *Scheduler) CollectMetrics(ctx context.Context) {
	if s.feed == nil {
		return
	}

	byTier := make(map[string]int)
	utilization := 0.0
	for _, st := range s.layer.List() {
		byTier[string(st.Status)]++
		utilization += st.AllocationRatio
		if st.Status == strategy.StatusRetired {
			continue
		}

		bundle, realizedPnL, err := s.feed.Snapshot(ctx, st)
		if err != nil {
			s.log.Warn().Err(err).Str("strategy_id", st.ID).Msg("Metrics snapshot failed")
			continue
		}
		fit, _ := fitness.Evaluate(bundle, s.goals)
		if err := s.layer.UpdateMetrics(ctx, st.ID, bundle, fit, realizedPnL); err != nil {
			s.log.Error().Err(err).Str("strategy_id", st.ID).Msg("Metrics update failed")
			continue
		}
		metrics.StrategyFitness.Observe(fit)
	}
	metrics.UpdatePopulation(byTier, utilization)
}

// TriggerFor classifies whether a strategy needs evolution right now
func (s *Scheduler) TriggerFor(st *strategy.Strategy, now time.Time) (Trigger, bool) {
	if st.Status == strategy.StatusRetired {
		return "", false
	}
	if st.Fitness < s.cfg.UrgentBelow {
		return TriggerUrgent, true
	}
	if st.Fitness < s.cfg.RoutineBelow {
		return TriggerRoutine, true
	}
	last := st.LastEvolved
	if last.IsZero() {
		last = st.CreatedAt
	}
	if now.Sub(last) >= s.cfg.RefreshWindow {
		return TriggerRefresh, true
	}
	return "", false
}

// Scan walks the population and enqueues a task for every strategy whose
// trigger fires, unless it is cooling down or already pending
func (s *Scheduler) Scan(ctx context.Context) {
	// A store outage halts new task admission; in-flight work and reads
	// continue.
	if err := s.layer.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Store unreachable, task admission halted")
		return
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.layer.List() {
		if _, busy := s.pending[st.ID]; busy {
			continue
		}
		if last, ok := s.lastAttempt[st.ID]; ok && now.Sub(last) < s.cfg.Cooldown {
			continue
		}
		trig, ok := s.TriggerFor(st, now)
		if !ok {
			continue
		}

		task := &Task{
			ID:         uuid.New().String(),
			StrategyID: st.ID,
			Trigger:    trig,
			State:      StateQueued,
			EnqueuedAt: now,
			OldFitness: st.Fitness,
		}
		s.queue = append(s.queue, task)
		s.pending[st.ID] = task
		s.log.Debug().Str("strategy_id", st.ID).Str("trigger", string(trig)).
			Float64("fitness", st.Fitness).Msg("Evolution task queued")
	}
	metrics.QueueDepth.Set(float64(len(s.queue)))
}

// Dispatch starts queued tasks while concurrency slots remain. Tasks for
// strategies retired since enqueueing are dropped without running.
func (s *Scheduler) Dispatch(ctx context.Context) {
	for {
		task := s.popNext()
		if task == nil {
			return
		}

		st, err := s.layer.Get(task.StrategyID)
		if err != nil || st.Status == strategy.StatusRetired {
			s.finishTask(task, StateRejected, "strategy retired before task start", 0)
			continue
		}

		if !s.sem.TryAcquire(1) {
			s.pushFront(task)
			return
		}

		s.mu.Lock()
		task.State = StateRunning
		task.StartedAt = s.clock()
		s.lastAttempt[task.StrategyID] = task.StartedAt
		s.mu.Unlock()
		metrics.RunningTasks.Inc()

		s.wg.Add(1)
		go func(task *Task) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer metrics.RunningTasks.Dec()
			s.execute(ctx, task)
		}(task)
	}
}

// popNext removes the best queued task: highest trigger priority first,
// FIFO within a priority
func (s *Scheduler) popNext() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}

	best := 0
	for i, t := range s.queue[1:] {
		if triggerPriority[t.Trigger] < triggerPriority[s.queue[best].Trigger] {
			best = i + 1
		}
	}
	task := s.queue[best]
	s.queue = append(s.queue[:best], s.queue[best+1:]...)
	metrics.QueueDepth.Set(float64(len(s.queue)))
	return task
}

func (s *Scheduler) pushFront(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]*Task{task}, s.queue...)
	metrics.QueueDepth.Set(float64(len(s.queue)))
}

func (s *Scheduler) finishTask(task *Task, state TaskState, reason string, newFitness float64) {
	s.mu.Lock()
	task.State = state
	task.Reason = reason
	task.NewFitness = newFitness
	task.FinishedAt = s.clock()
	delete(s.pending, task.StrategyID)
	s.mu.Unlock()

	outcome := metrics.OutcomeRejected
	switch state {
	case StateApplied:
		outcome = metrics.OutcomeApplied
	case StateFailed:
		outcome = metrics.OutcomeFailed
	}
	metrics.EvolutionsTotal.WithLabelValues(outcome, string(task.Trigger)).Inc()
}

// execute runs one evolution attempt to completion
func (s *Scheduler) execute(ctx context.Context, task *Task) {
	logger := config.NewStrategyLogger("scheduler", task.StrategyID)

	st, err := s.layer.Get(task.StrategyID)
	if err != nil {
		s.finishTask(task, StateFailed, err.Error(), 0)
		return
	}

	ev, reason, err := s.evolve(ctx, st, task.Trigger)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("Evolution task failed")
		s.finishTask(task, StateFailed, err.Error(), 0)
	case ev == nil:
		logger.Info().Str("reason", reason).Msg("Evolution task rejected")
		s.finishTask(task, StateRejected, reason, 0)
	default:
		logger.Info().Float64("new_fitness", ev.NewFitness).Msg("Evolution applied")
		s.finishTask(task, StateApplied, "", ev.NewFitness)
	}
}

// candidate is one genome up for validation together with the method
// that produced it
type candidate struct {
	genome strategy.Genome
	method strategy.EvolutionMethod
}

// eliteMate returns the fittest other elite strategy of the same family,
// or nil when no crossover partner exists
func (s *Scheduler) eliteMate(st *strategy.Strategy) *strategy.Strategy {
	if st.Protection != strategy.ProtectionElite {
		return nil
	}
	var mate *strategy.Strategy
	for _, other := range s.layer.List() {
		if other.ID == st.ID || other.Family != st.Family {
			continue
		}
		if other.Status == strategy.StatusRetired || other.Protection != strategy.ProtectionElite {
			continue
		}
		if mate == nil || other.Fitness > mate.Fitness {
			mate = other
		}
	}
	return mate
}

// evolve runs the candidate pipeline for one strategy. A nil event with
// a reason means the attempt was rejected; an error means it failed.
func (s *Scheduler) evolve(ctx context.Context, st *strategy.Strategy, trigger Trigger) (*strategy.EvolutionEvent, string, error) {
	intensity := evolution.IntensityFor(st.Fitness)

	var candidates []candidate
	for _, genome := range s.generator.Candidates(st.Family, st.Genome, st.Fitness) {
		candidates = append(candidates, candidate{genome: genome, method: strategy.MethodMutation})
	}
	// two elite parents of the same family also contribute a crossover child
	if mate := s.eliteMate(st); mate != nil {
		if child, err := s.generator.Crossover(st, mate); err == nil {
			candidates = append(candidates, candidate{genome: child, method: strategy.MethodCrossover})
		} else {
			s.log.Debug().Err(err).Str("strategy_id", st.ID).Msg("Crossover skipped")
		}
	}
	metrics.CandidatesGenerated.WithLabelValues(string(intensity)).Add(float64(len(candidates)))

	// selection picks the highest predicted fitness; the confidence gate
	// applies to the selected candidate afterwards, so a low-confidence
	// winner rejects the task instead of yielding to a runner-up
	var best *strategy.ValidationRecord
	var bestMethod strategy.EvolutionMethod
	for _, c := range candidates {
		rec, err := s.runner.Score(ctx, st, c.genome)
		if err != nil {
			return nil, "", fmt.Errorf("validation failed: %w", err)
		}
		if !rec.Success {
			metrics.ValidationRejections.Inc()
			continue
		}
		if best == nil || rec.PredictedFitness > best.PredictedFitness {
			best = rec
			bestMethod = c.method
		}
	}

	if best == nil {
		return nil, "no candidate passed validation", nil
	}
	if best.Confidence < s.cfg.MinConfidence {
		metrics.ValidationRejections.Inc()
		return nil, fmt.Sprintf("best candidate confidence %.2f below minimum %.2f", best.Confidence, s.cfg.MinConfidence), nil
	}
	improvement := best.PredictedFitness - st.Fitness
	if improvement < s.cfg.MinImprovement {
		return nil, fmt.Sprintf("best improvement %.4f below minimum %.4f", improvement, s.cfg.MinImprovement), nil
	}

	// a strategy retired while its candidates were being trialed keeps
	// its last committed genome; the result is discarded
	fresh, err := s.layer.Get(st.ID)
	if err != nil {
		return nil, "", err
	}
	if fresh.Status == strategy.StatusRetired {
		return nil, "strategy retired during evolution", nil
	}

	// best-effort snapshots bracket the commit so evolutionary progress
	// survives a bad cycle; a snapshot failure never blocks the commit
	if err := s.layer.Snapshot(ctx, "pre-cycle"); err != nil {
		s.log.Warn().Err(err).Str("strategy_id", st.ID).Msg("Pre-cycle snapshot failed")
	}

	start := time.Now()
	ev, err := s.layer.CommitGenome(ctx, st.ID, best.Candidate, best.PredictedFitness, bestMethod, string(trigger))
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var ie *store.InvariantError
		if errors.As(err, &ie) {
			return nil, ie.Error(), nil
		}
		return nil, "", err
	}

	if err := s.layer.Snapshot(ctx, "post-cycle"); err != nil {
		s.log.Warn().Err(err).Str("strategy_id", st.ID).Msg("Post-cycle snapshot failed")
	}

	s.afterCommit(ctx, fresh, ev)
	return ev, "", nil
}

// afterCommit fans the event out to sinks, raises protection alerts, and
// re-checks lifecycle gates against the new fitness
func (s *Scheduler) afterCommit(ctx context.Context, before *strategy.Strategy, ev *strategy.EvolutionEvent) {
	s.mu.Lock()
	sinks := append([]EventSink(nil), s.sinks...)
	protection := s.protection
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.EvolutionCommitted(ev)
	}

	if protection != nil {
		if after, err := s.layer.Get(ev.StrategyID); err == nil && after.Protection > before.Protection {
			protection.NotifyProtection(after, after.Protection)
		}
	}

	if s.lifecycle != nil {
		if err := s.lifecycle.Evaluate(ctx); err != nil {
			s.log.Error().Err(err).Msg("Post-commit lifecycle pass failed")
		}
	}
}

// EvolveNow runs an immediate evolution for one strategy, bypassing the
// cooldown and trigger checks. It never panics; every failure mode comes
// back as an unsuccessful Result.
func (s *Scheduler) EvolveNow(ctx context.Context, strategyID string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("strategy_id", strategyID).
				Msg("Recovered panic in manual evolution")
			result = Result{Success: false, Code: ReasonFailed, Reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	st, err := s.layer.Get(strategyID)
	if err != nil {
		return Result{Success: false, Code: ReasonNotFound, Reason: "strategy not found"}
	}
	if st.Status == strategy.StatusRetired {
		return Result{Success: false, Code: ReasonRetired, Reason: "strategy is retired", OldFitness: st.Fitness}
	}

	s.mu.Lock()
	if _, busy := s.pending[strategyID]; busy {
		s.mu.Unlock()
		return Result{Success: false, Code: ReasonBusy, Reason: "evolution already in progress", OldFitness: st.Fitness}
	}
	task := &Task{
		ID:         uuid.New().String(),
		StrategyID: strategyID,
		Trigger:    TriggerManual,
		State:      StateRunning,
		EnqueuedAt: s.clock(),
		StartedAt:  s.clock(),
		OldFitness: st.Fitness,
	}
	s.pending[strategyID] = task
	s.lastAttempt[strategyID] = task.StartedAt
	s.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finishTask(task, StateFailed, err.Error(), 0)
		return Result{Success: false, Code: ReasonFailed, Reason: "cancelled while waiting for a slot", OldFitness: st.Fitness}
	}
	defer s.sem.Release(1)
	metrics.RunningTasks.Inc()
	defer metrics.RunningTasks.Dec()

	ev, reason, err := s.evolve(ctx, st, TriggerManual)
	switch {
	case err != nil:
		s.finishTask(task, StateFailed, err.Error(), 0)
		return Result{Success: false, Code: ReasonFailed, Reason: err.Error(), OldFitness: st.Fitness}
	case ev == nil:
		s.finishTask(task, StateRejected, reason, 0)
		return Result{Success: false, Code: ReasonRejected, Reason: reason, OldFitness: st.Fitness}
	default:
		s.finishTask(task, StateApplied, "", ev.NewFitness)
		return Result{
			Success:    true,
			OldFitness: ev.OldFitness,
			NewFitness: ev.NewFitness,
			EventID:    ev.ID,
		}
	}
}

// QueueDepth returns the number of queued tasks
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// PendingFor reports the pending task for a strategy, if any
func (s *Scheduler) PendingFor(strategyID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[strategyID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}
