package refresh

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"ccwatch/internal/constants"
	"ccwatch/internal/credential"
	apperrors "ccwatch/internal/errors"
	"ccwatch/internal/events"
	"ccwatch/internal/keyring"
	"ccwatch/internal/monitoring"
	"ccwatch/internal/monitoring/tracing"
	"ccwatch/internal/usage"
)

// Fetcher is the slice of the usage client the orchestrator drives.
type Fetcher interface {
	Fetch(ctx context.Context, allowInteractive bool) (*usage.Snapshot, error)
}

// Status is a point-in-time copy of the observable refresh state.
type Status struct {
	State         string          `json:"state"`
	ResumeAt      *time.Time      `json:"resume_at,omitempty"`
	Snapshot      *usage.Snapshot `json:"snapshot,omitempty"`
	Staleness     string          `json:"staleness,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	LastErrorKind string          `json:"last_error_kind,omitempty"`
	LastErrorAt   *time.Time      `json:"last_error_at,omitempty"`
	AccessDenied  bool            `json:"access_denied"`
}

// Orchestrator owns RefreshState and the usage snapshot, wraps fetch
// attempts in timeout plus retry-with-backoff, and exposes the sleep/wake
// entry points. A user-initiated refresh cancels and supersedes an
// automatic one, never the reverse.
type Orchestrator struct {
	mu          sync.Mutex
	state       State
	resumeAt    time.Time
	snapshot    *usage.Snapshot
	lastErr     error
	lastErrAt   time.Time
	inflight    context.CancelFunc
	inflightTrg Trigger
	wakeTimer   *time.Timer

	baseCtx context.Context
	creds   *credential.Store
	fetcher Fetcher
	hub     *events.Hub

	maxAttempts  int
	backoffBase  time.Duration
	backoffMax   time.Duration
	fetchTimeout time.Duration
	wakeDelay    time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// OrchestratorOption adjusts an Orchestrator at construction.
type OrchestratorOption func(*Orchestrator)

// WithBackoff overrides the retry schedule.
func WithBackoff(attempts int, base, max time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.maxAttempts = attempts
		o.backoffBase = base
		o.backoffMax = max
	}
}

// WithFetchTimeout overrides the per-attempt timeout.
func WithFetchTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.fetchTimeout = d }
}

// WithWakeDelay overrides the cold-wake stabilization delay.
func WithWakeDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.wakeDelay = d }
}

// WithSleeper overrides the backoff sleeper, for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithOrchestratorClock overrides the clock, for tests.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator builds the state machine in the idle state. Refresh
// cycles derive from baseCtx, not from the context of whichever caller
// happened to trigger them.
func NewOrchestrator(baseCtx context.Context, creds *credential.Store, fetcher Fetcher, hub *events.Hub, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		state:        StateIdle,
		baseCtx:      baseCtx,
		creds:        creds,
		fetcher:      fetcher,
		hub:          hub,
		maxAttempts:  constants.MaxFetchAttempts,
		backoffBase:  constants.RetryBaseDelay,
		backoffMax:   constants.RetryMaxDelay,
		fetchTimeout: constants.FetchTimeout,
		wakeDelay:    constants.WakeStabilizeDelay,
		now:          time.Now,
	}
	o.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	updateStateGauge(StateIdle)
	return o
}

// RefreshAuto runs the poll-driven path. It refuses to prompt: unless a
// cached or environment credential guarantees a silent resolve, the
// upstream store is preflighted first, and an interaction-required answer
// parks the machine in needs_manual_refresh instead of attempting.
func (o *Orchestrator) RefreshAuto(ctx context.Context) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	// Preflight happens outside the state lock; it can take seconds.
	silent, probe := o.canRefreshSilently(ctx)
	if !silent {
		o.mu.Lock()
		if o.state == StateIdle {
			o.setStateLocked(StateNeedsManualRefresh, "preflight_interaction_required")
		}
		o.mu.Unlock()
		return
	}
	if probe != "" {
		log.WithField("preflight", probe).Debug("automatic refresh preflight passed")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return
	}
	o.startCycleLocked(TriggerAuto, false)
}

// RefreshUser runs the user path: it cancels any in-flight automatic cycle,
// clears the access-denied flag and is permitted to prompt. A second user
// refresh while one is in flight is a no-op.
func (o *Orchestrator) RefreshUser(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateLoading && o.inflightTrg == TriggerUser && o.inflight != nil {
		log.Debug("user refresh already in flight")
		return
	}
	o.cancelInflightLocked()
	o.stopWakeTimerLocked()
	o.creds.RetryUpstreamAccess(ctx)
	o.startCycleLocked(TriggerUser, true)
}

// RefreshBootstrap runs the one user-permitted startup attempt. Unlike
// RefreshUser it leaves the access-denied flag alone.
func (o *Orchestrator) RefreshBootstrap(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return
	}
	o.startCycleLocked(TriggerBootstrap, true)
}

// PauseForSleep cancels in-flight work, stops automatic refreshing and
// warms the in-process cache while the host is still up.
func (o *Orchestrator) PauseForSleep(ctx context.Context) {
	o.mu.Lock()
	o.cancelInflightLocked()
	o.stopWakeTimerLocked()
	o.setStateLocked(StatePausedForSleep, "host_sleeping")
	o.mu.Unlock()

	warmCtx, cancel := context.WithTimeout(ctx, constants.SleepWarmTimeout)
	defer cancel()
	if o.creds.WarmCache(warmCtx) {
		log.Debug("credential cache warmed before sleep")
	}
}

// ResumeAfterWake resumes after a host wake: with a warm cache it refreshes
// immediately, otherwise it waits a short stabilization delay before
// polling resumes.
func (o *Orchestrator) ResumeAfterWake(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePausedForSleep {
		return
	}

	if o.creds.WarmMemory() {
		o.startCycleLocked(TriggerWake, false)
		return
	}

	o.resumeAt = o.now().Add(o.wakeDelay)
	o.setStateLocked(StateWakingUp, "cold_wake")
	o.wakeTimer = time.AfterFunc(o.wakeDelay, o.finishWake)
}

func (o *Orchestrator) finishWake() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateWakingUp {
		return
	}
	o.resumeAt = time.Time{}
	o.setStateLocked(StateIdle, "wake_delay_elapsed")
}

// ResetAuthentication discards the snapshot, drops every credential cache
// tier and clears the access-denied flag.
func (o *Orchestrator) ResetAuthentication(ctx context.Context) {
	o.mu.Lock()
	o.cancelInflightLocked()
	o.snapshot = nil
	o.lastErr = nil
	o.lastErrAt = time.Time{}
	if o.state == StateNeedsManualRefresh || o.state == StateLoading {
		o.setStateLocked(StateIdle, "auth_reset")
	}
	o.mu.Unlock()

	o.creds.ResetAuthentication(ctx)
}

// RetryUpstreamAccess clears only the denial flag; cached tokens and the
// snapshot survive. The machine leaves needs_manual_refresh so the next
// poll can try again.
func (o *Orchestrator) RetryUpstreamAccess(ctx context.Context) {
	o.creds.RetryUpstreamAccess(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateNeedsManualRefresh {
		o.setStateLocked(StateIdle, "upstream_access_retry")
	}
}

// CurrentState returns the active variant.
func (o *Orchestrator) CurrentState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns the last successful snapshot, nil before the first
// success or after an authentication reset.
func (o *Orchestrator) Snapshot() *usage.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

// Status returns a copy of everything observable.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		State:        o.state.String(),
		Snapshot:     o.snapshot,
		AccessDenied: o.creds.AccessDenied(),
	}
	if o.state == StateWakingUp && !o.resumeAt.IsZero() {
		resumeAt := o.resumeAt
		st.ResumeAt = &resumeAt
	}
	if o.snapshot != nil {
		st.Staleness = string(o.snapshot.Staleness(o.now()))
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
		st.LastErrorKind = string(apperrors.KindOf(o.lastErr))
		lastAt := o.lastErrAt
		st.LastErrorAt = &lastAt
	}
	return st
}

// canRefreshSilently reports whether an automatic refresh can proceed with
// no chance of prompting. In order it accepts an environment override, a
// warm in-process cache, any persisted cache hit, or a preflight allowed
// answer. Only interaction_required blocks; not_found and failure go
// through so they fail with proper error handling instead.
func (o *Orchestrator) canRefreshSilently(ctx context.Context) (bool, string) {
	if o.creds.HasEnvOverride() || o.creds.WarmMemory() || o.creds.HasCachedCredential(ctx) {
		return true, ""
	}
	result := o.creds.PreflightUpstreamAccess(ctx)
	return result != keyring.PreflightInteractionRequired, result.String()
}

// startCycleLocked moves to loading and launches the cycle goroutine.
// Callers hold o.mu.
func (o *Orchestrator) startCycleLocked(trigger Trigger, allowInteractive bool) {
	cycleCtx, cancel := context.WithCancel(o.baseCtx)
	o.inflight = cancel
	o.inflightTrg = trigger
	o.setStateLocked(StateLoading, string(trigger))
	go o.runCycle(cycleCtx, trigger, allowInteractive)
}

// runCycle performs up to maxAttempts fetches. Transient failures back off
// 2s/4s/8s; credential failures surface immediately. A cancelled cycle
// commits nothing.
func (o *Orchestrator) runCycle(ctx context.Context, trigger Trigger, allowInteractive bool) {
	ctx, span := tracing.StartSpan(ctx, "refresh", "refresh.cycle")
	span.SetAttributes(attribute.String("refresh.trigger", string(trigger)))
	defer span.End()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		attempts = attempt
		snap, err := o.fetchOnce(ctx, allowInteractive)
		if err == nil {
			o.commitSuccess(ctx, snap, trigger)
			return
		}
		if apperrors.IsCanceled(err) || ctx.Err() != nil {
			monitoring.RefreshCyclesTotal.WithLabelValues(string(trigger), "cancelled").Inc()
			log.WithField("trigger", trigger).Debug("refresh cycle cancelled")
			return
		}

		lastErr = err
		if !apperrors.IsTransient(err) {
			break
		}

		delay := o.backoffDelay(attempt)
		log.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
			"error":   err,
		}).Warn("transient refresh failure, backing off")
		monitoring.RefreshRetriesTotal.Inc()
		if o.sleep(ctx, delay) != nil {
			monitoring.RefreshCyclesTotal.WithLabelValues(string(trigger), "cancelled").Inc()
			return
		}
	}

	span.RecordError(lastErr)
	o.commitFailure(ctx, lastErr, trigger, attempts)
}

// fetchOnce races one fetch against the internal timeout. A timeout is
// reported as transient so the retry policy applies to it.
func (o *Orchestrator) fetchOnce(ctx context.Context, allowInteractive bool) (*usage.Snapshot, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	snap, err := o.fetcher.Fetch(attemptCtx, allowInteractive)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, "usage fetch exceeded internal timeout", err)
	}
	return snap, err
}

func (o *Orchestrator) commitSuccess(ctx context.Context, snap *usage.Snapshot, trigger Trigger) {
	o.mu.Lock()
	if ctx.Err() != nil {
		o.mu.Unlock()
		return
	}
	o.snapshot = snap
	o.lastErr = nil
	o.lastErrAt = time.Time{}
	o.inflight = nil
	o.setStateLocked(StateIdle, "success")
	o.mu.Unlock()

	monitoring.RefreshCyclesTotal.WithLabelValues(string(trigger), "ok").Inc()
	monitoring.SnapshotFetchedAt.Set(float64(snap.FetchedAt.Unix()))
	if snap.FiveHour != nil {
		monitoring.SnapshotUtilization.WithLabelValues("five_hour").Set(snap.FiveHour.Utilization)
	}
	if snap.SevenDay != nil {
		monitoring.SnapshotUtilization.WithLabelValues("seven_day").Set(snap.SevenDay.Utilization)
	}

	log.WithField("trigger", trigger).Info("usage snapshot refreshed")
	o.publish(ctx, events.TopicSnapshotUpdated, snap, map[string]string{"trigger": string(trigger)})
}

func (o *Orchestrator) commitFailure(ctx context.Context, err error, trigger Trigger, attempts int) {
	kind := apperrors.KindOf(err)
	if kind == "" {
		kind = "error"
	}

	o.mu.Lock()
	if ctx.Err() != nil {
		o.mu.Unlock()
		return
	}
	o.lastErr = err
	o.lastErrAt = o.now()
	o.inflight = nil
	o.setStateLocked(StateIdle, "failure")
	o.mu.Unlock()

	monitoring.RefreshCyclesTotal.WithLabelValues(string(trigger), string(kind)).Inc()
	log.WithFields(log.Fields{"trigger": trigger, "kind": kind, "error": err}).Warn("refresh cycle failed")
	o.publish(ctx, events.TopicRefreshFailed, events.RefreshFailure{
		Kind:     string(kind),
		Message:  err.Error(),
		Attempts: attempts,
	}, map[string]string{"trigger": string(trigger)})
}

func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	delay := o.backoffBase << (attempt - 1)
	if delay > o.backoffMax {
		delay = o.backoffMax
	}
	return delay
}

// cancelInflightLocked abandons the active cycle, if any. The cycle
// goroutine observes the cancelled context and commits nothing.
func (o *Orchestrator) cancelInflightLocked() {
	if o.inflight != nil {
		o.inflight()
		o.inflight = nil
	}
}

func (o *Orchestrator) stopWakeTimerLocked() {
	if o.wakeTimer != nil {
		o.wakeTimer.Stop()
		o.wakeTimer = nil
	}
	o.resumeAt = time.Time{}
}

func (o *Orchestrator) setStateLocked(next State, reason string) {
	if o.state == next {
		return
	}
	prev := o.state
	o.state = next
	updateStateGauge(next)

	change := events.StateChange{From: prev.String(), To: next.String(), Reason: reason}
	if next == StateWakingUp && !o.resumeAt.IsZero() {
		resumeAt := o.resumeAt
		change.ResumeAt = &resumeAt
	}
	log.WithFields(log.Fields{"from": change.From, "to": change.To, "reason": reason}).Debug("refresh state changed")
	o.publish(context.Background(), events.TopicStateChanged, change, nil)
}

func (o *Orchestrator) publish(ctx context.Context, topic string, payload any, metadata map[string]string) {
	if o.hub != nil {
		o.hub.Publish(ctx, topic, payload, metadata)
	}
}

func updateStateGauge(active State) {
	for _, s := range allStates {
		value := 0.0
		if s == active {
			value = 1.0
		}
		monitoring.RefreshState.WithLabelValues(s.String()).Set(value)
	}
}
