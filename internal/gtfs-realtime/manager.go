package gtfs_realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/transitboard/internal/common/logger"
	"github.com/transitboard/internal/display"
	"github.com/transitboard/internal/gtfs-realtime/decoder"
	"github.com/transitboard/internal/gtfs-realtime/processor"
	"github.com/transitboard/internal/gtfs-realtime/reftime"
	"github.com/transitboard/internal/gtfs-realtime/transport"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

type State int

const (
	StateIdle State = iota
	StatePolling
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeNoData covers transport and decode failures
	OutcomeNoData
	// OutcomeEmptyFeed is a well-formed feed without entities
	OutcomeEmptyFeed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoData:
		return "no_data"
	case OutcomeEmptyFeed:
		return "empty_feed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// CycleResult is everything one cycle produced. Board is only meaningful
// for OutcomeOK; Alert is always set.
type CycleResult struct {
	Outcome         Outcome
	Board           models.Board
	ReferenceSource reftime.Source
	Alert           models.AlertState
	Err             error
}

// Runtime is the mutable state carried from one cycle to the next. It is
// owned by the polling goroutine; the extraction pipeline never sees the
// streak.
type Runtime struct {
	Decoder       *decoder.Decoder
	FailureStreak int
	HasSucceeded  bool
	Degraded      bool
	DegradedSince time.Time
}

// Snapshot is a read-only view of the scheduler for health reporting
type Snapshot struct {
	Running         bool      `json:"running"`
	State           string    `json:"state"`
	FailureStreak   int       `json:"failureStreak"`
	Degraded        bool      `json:"degraded"`
	HasSucceeded    bool      `json:"hasSucceeded"`
	LastOutcome     string    `json:"lastOutcome,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
	LastCycleAt     time.Time `json:"lastCycleAt"`
	LastSuccessAt   time.Time `json:"lastSuccessAt"`
	ReferenceSource string    `json:"referenceSource,omitempty"`
	NextDelay       string    `json:"nextDelay,omitempty"`
}

// FeedFetcher returns a validated payload for a feed URL
type FeedFetcher interface {
	Fetch(ctx context.Context, target string) (*transport.Payload, error)
}

// Notifier is told when the board enters and leaves the degraded state
type Notifier interface {
	NotifyDegraded(ctx context.Context, failureStreak int, lastErr error) error
	NotifyRecovered(ctx context.Context, downtime time.Duration) error
}

type Metrics interface {
	ObserveCycle(outcome string, took time.Duration)
	SetStreak(streak int, degraded bool)
	SetArrivals(direction string, n int)
	SetAlertActive(active bool)
}

type Config struct {
	TripUpdatesURL    string
	AlertsURL         string
	WestContainerID   string
	EastContainerID   string
	PollInterval      time.Duration
	FastRetryInterval time.Duration
	FailureThreshold  int
	// RetryJitter is the randomization factor applied to fast retries
	RetryJitter float64
}

// ErrRunning is returned by RunOnce while the polling loop owns the cycle
var ErrRunning = errors.New("GTFS-realtime manager is already running")

type Manager struct {
	config    Config
	fetcher   FeedFetcher
	processor *processor.Processor
	renderer  display.Renderer
	notifier  Notifier
	metrics   Metrics
	logger    logger.Logger
	now       func() time.Time

	runtime *Runtime
	backoff *backoff.ExponentialBackOff

	mu        sync.RWMutex
	state     State
	snapshot  Snapshot
	isRunning bool
	cancelFn  context.CancelFunc
	done      chan struct{}
}

// NewManager wires the cycle pipeline. notifier and metrics may be nil.
func NewManager(cfg Config, fetcher FeedFetcher, proc *processor.Processor, renderer display.Renderer,
	notifier Notifier, metrics Metrics, log logger.Logger) *Manager {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.FastRetryInterval
	b.MaxInterval = cfg.PollInterval
	b.RandomizationFactor = cfg.RetryJitter
	b.MaxElapsedTime = 0
	b.Reset()

	return &Manager{
		config:    cfg,
		fetcher:   fetcher,
		processor: proc,
		renderer:  renderer,
		notifier:  notifier,
		metrics:   metrics,
		logger:    log,
		now:       time.Now,
		runtime:   &Runtime{Decoder: decoder.New()},
		backoff:   b,
		state:     StateIdle,
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return ErrRunning
	}

	if err := m.validateConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancelFn = cancel
	m.done = make(chan struct{})
	m.isRunning = true

	go m.loop(ctx, m.done)

	m.logger.Info("GTFS-realtime manager started",
		"trip_updates_url", m.config.TripUpdatesURL,
		"poll_interval", m.config.PollInterval.String(),
		"failure_threshold", m.config.FailureThreshold,
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.logger.Info("Stopping GTFS-realtime manager")
	m.cancelFn()
	done := m.done
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	m.isRunning = false
	m.state = StateIdle
	m.mu.Unlock()
	m.logger.Info("GTFS-realtime manager stopped")
}

// Done is closed when the polling loop exits
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshot
	snap.Running = m.isRunning
	snap.State = m.state.String()
	return snap
}

// RunOnce runs a single cycle and applies its result, without scheduling
// another one. It refuses while Start's loop is active.
func (m *Manager) RunOnce(ctx context.Context) (CycleResult, error) {
	if m.IsRunning() {
		return CycleResult{}, ErrRunning
	}
	result, _ := m.step(ctx)
	return result, nil
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	// the parent context may end without Stop being called
	defer func() {
		m.mu.Lock()
		m.isRunning = false
		m.state = StateIdle
		m.mu.Unlock()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		_, delay := m.step(ctx)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(delay)
	}
}

// step runs one cycle to completion and returns the delay before the next
func (m *Manager) step(ctx context.Context) (CycleResult, time.Duration) {
	m.setState(StatePolling)

	start := m.now()
	result := m.runCycle(ctx, m.runtime)
	if ctx.Err() != nil {
		// shutting down; the result says nothing about the feed
		return result, 0
	}

	delay := m.apply(ctx, result)
	if m.metrics != nil {
		m.metrics.ObserveCycle(result.Outcome.String(), m.now().Sub(start))
	}
	m.recordSnapshot(result, start, delay)
	return result, delay
}

// runCycle fetches, decodes and extracts. Every failure becomes an outcome;
// nothing escapes. The alert feed is read on every cycle whatever the trip
// feed did.
func (m *Manager) runCycle(ctx context.Context, rt *Runtime) CycleResult {
	result := m.extractTrips(ctx, rt)
	result.Alert = m.fetchAlert(ctx, rt)
	return result
}

func (m *Manager) extractTrips(ctx context.Context, rt *Runtime) CycleResult {
	feed, err := m.fetchFeed(ctx, rt, m.config.TripUpdatesURL)
	if err != nil {
		return CycleResult{Outcome: OutcomeNoData, Err: err}
	}

	ref, source := reftime.ResolveReferenceTime(feed, m.now)

	board, err := m.processor.ExtractArrivals(feed, ref)
	switch {
	case errors.Is(err, processor.ErrEmptyFeed):
		return CycleResult{Outcome: OutcomeEmptyFeed, ReferenceSource: source, Err: err}
	case err != nil:
		return CycleResult{Outcome: OutcomeNoData, ReferenceSource: source, Err: err}
	}

	return CycleResult{Outcome: OutcomeOK, Board: board, ReferenceSource: source}
}

// fetchAlert never fails; any problem yields the all clear state
func (m *Manager) fetchAlert(ctx context.Context, rt *Runtime) (state models.AlertState) {
	if m.config.AlertsURL == "" {
		return models.AllClear()
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Alert extraction panicked", "panic", fmt.Sprint(r))
			state = models.AllClear()
		}
	}()

	feed, err := m.fetchFeed(ctx, rt, m.config.AlertsURL)
	if err != nil {
		m.logger.Warn("Alert feed unavailable, showing all clear", "error", err)
		return models.AllClear()
	}

	return m.processor.ExtractActiveAlert(feed, m.processor.TrackedRoutes())
}

// fetchFeed fetches and decodes target. A body the transport rejected only
// for its size is still decoded: a header-only feed is tiny, and it is
// accepted when it carries a header version.
func (m *Manager) fetchFeed(ctx context.Context, rt *Runtime, target string) (*models.Feed, error) {
	payload, err := m.fetcher.Fetch(ctx, target)
	if err == nil {
		return rt.Decoder.Decode(payload.Body, payload.ContentType)
	}

	var fetchErr *transport.Error
	if !errors.As(err, &fetchErr) {
		return nil, err
	}
	short := fetchErr.ShortPayload()
	if short == nil {
		return nil, err
	}

	feed, decodeErr := rt.Decoder.Decode(short.Body, short.ContentType)
	if decodeErr != nil || feed.Header.Version == "" {
		return nil, err
	}
	m.logger.Debug("Accepted short feed payload", "endpoint", short.Endpoint, "bytes", len(short.Body))
	return feed, nil
}

// apply performs the state transition for result and returns the next delay
func (m *Manager) apply(ctx context.Context, result CycleResult) time.Duration {
	rt := m.runtime
	log := m.logger.With("outcome", result.Outcome.String())

	var delay time.Duration
	switch result.Outcome {
	case OutcomeOK:
		wasDegraded, since := rt.Degraded, rt.DegradedSince
		rt.FailureStreak = 0
		rt.HasSucceeded = true
		rt.Degraded = false
		m.backoff.Reset()

		m.render(func(r display.Renderer) error {
			return r.RenderArrivals(ctx, m.config.WestContainerID, result.Board.West)
		})
		m.render(func(r display.Renderer) error {
			return r.RenderArrivals(ctx, m.config.EastContainerID, result.Board.East)
		})
		m.render(func(r display.Renderer) error { return r.RenderStatus(ctx, models.FeedLive) })
		if m.metrics != nil {
			m.metrics.SetArrivals(string(models.DirectionWest), len(result.Board.West))
			m.metrics.SetArrivals(string(models.DirectionEast), len(result.Board.East))
		}

		if wasDegraded {
			downtime := m.now().Sub(since)
			log.Info("Trip feed recovered", "downtime", downtime.String())
			if m.notifier != nil {
				if err := m.notifier.NotifyRecovered(ctx, downtime); err != nil {
					log.Warn("Failed to send recovery notification", "error", err)
				}
			}
		}

		if result.Board.IsEmpty() {
			log.Info("No trains found (Service Closed or No Data)")
		}
		log.Debug("Cycle complete",
			"west", len(result.Board.West),
			"east", len(result.Board.East),
			"reference", result.ReferenceSource.String(),
		)
		m.setState(StateIdle)
		delay = m.config.PollInterval

	case OutcomeEmptyFeed:
		rt.FailureStreak++
		if rt.HasSucceeded {
			m.setState(StateIdle)
			delay = m.config.PollInterval
		} else {
			m.setState(StateBackoff)
			delay = m.nextBackoff()
		}
		log.Warn("Trip feed has no entities", "failure_streak", rt.FailureStreak, "retry_in", delay.String())

	default:
		rt.FailureStreak++
		m.setState(StateBackoff)
		delay = m.nextBackoff()
		log.Warn("No trip data this cycle",
			"failure_streak", rt.FailureStreak,
			"retry_in", delay.String(),
			"error", result.Err,
		)
	}

	if result.Outcome != OutcomeOK {
		m.applyFailure(ctx, result)
	}

	m.render(func(r display.Renderer) error { return r.RenderAlert(ctx, result.Alert) })
	if m.metrics != nil {
		m.metrics.SetAlertActive(result.Alert.Active)
		m.metrics.SetStreak(rt.FailureStreak, rt.Degraded)
	}

	return delay
}

// applyFailure leaves the last board untouched below the threshold and
// switches to the reconnecting state at or above it
func (m *Manager) applyFailure(ctx context.Context, result CycleResult) {
	rt := m.runtime

	if rt.FailureStreak < m.config.FailureThreshold {
		m.render(func(r display.Renderer) error { return r.RenderStatus(ctx, models.FeedStale) })
		return
	}

	if !rt.Degraded {
		rt.Degraded = true
		rt.DegradedSince = m.now()
		// the notifier posts to Discord; an error log would post twice
		m.logger.Warn("Trip feed degraded, hiding predictions",
			"failure_streak", rt.FailureStreak,
			"error", result.Err,
		)
		if m.notifier != nil {
			if err := m.notifier.NotifyDegraded(ctx, rt.FailureStreak, result.Err); err != nil {
				m.logger.Warn("Failed to send degraded notification", "error", err)
			}
		}
	}

	m.render(func(r display.Renderer) error {
		return r.RenderArrivals(ctx, m.config.WestContainerID, models.DirectionalArrivalList{})
	})
	m.render(func(r display.Renderer) error {
		return r.RenderArrivals(ctx, m.config.EastContainerID, models.DirectionalArrivalList{})
	})
	m.render(func(r display.Renderer) error { return r.RenderStatus(ctx, models.FeedReconnecting) })
	if m.metrics != nil {
		m.metrics.SetArrivals(string(models.DirectionWest), 0)
		m.metrics.SetArrivals(string(models.DirectionEast), 0)
	}
}

func (m *Manager) nextBackoff() time.Duration {
	d := m.backoff.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return m.config.PollInterval
	}
	return d
}

func (m *Manager) render(call func(display.Renderer) error) {
	if err := call(m.renderer); err != nil {
		m.logger.Warn("Renderer failed", "error", err)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *Manager) recordSnapshot(result CycleResult, at time.Time, delay time.Duration) {
	rt := m.runtime

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot.FailureStreak = rt.FailureStreak
	m.snapshot.Degraded = rt.Degraded
	m.snapshot.HasSucceeded = rt.HasSucceeded
	m.snapshot.LastOutcome = result.Outcome.String()
	m.snapshot.LastCycleAt = at
	m.snapshot.NextDelay = delay.String()
	m.snapshot.LastError = ""
	if result.Err != nil {
		m.snapshot.LastError = result.Err.Error()
	}
	if result.Outcome == OutcomeOK {
		m.snapshot.LastSuccessAt = at
		m.snapshot.ReferenceSource = result.ReferenceSource.String()
	}
}

func (m *Manager) validateConfig() error {
	if m.config.TripUpdatesURL == "" {
		return fmt.Errorf("trip updates URL is required")
	}
	if m.config.WestContainerID == "" || m.config.EastContainerID == "" {
		return fmt.Errorf("both container ids are required")
	}
	if m.config.PollInterval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}
	if m.config.FastRetryInterval <= 0 || m.config.FastRetryInterval > m.config.PollInterval {
		return fmt.Errorf("fast retry interval must be positive and not exceed the polling interval")
	}
	if m.config.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	if m.fetcher == nil || m.processor == nil || m.renderer == nil {
		return fmt.Errorf("fetcher, processor and renderer are required")
	}
	return nil
}
