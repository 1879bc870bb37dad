package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mapwatch/internal/clock"
	"mapwatch/internal/domain"
	"mapwatch/internal/engine"
	"mapwatch/internal/settings"
)

// RuleSource supplies the rule snapshot evaluated each cycle.
// Params: none.
// Returns: cloned rule list safe to iterate without locking.
type RuleSource interface {
	List() []domain.MonitorRule
}

// MonitorStatus is one point-in-time scheduler snapshot.
// Params: run flag, cycle counters, and match history copies.
// Returns: status payload for the management surface.
type MonitorStatus struct {
	Running        bool                   `json:"running"`
	CheckCount     uint64                 `json:"check_count"`
	ErrorCount     uint64                 `json:"error_count"`
	LastError      string                 `json:"last_error,omitempty"`
	LastCycleAt    time.Time              `json:"last_cycle_at"`
	CurrentMatches []domain.MatchedServer `json:"current_matches"`
	RecentMatches  []domain.MatchedServer `json:"recent_matches"`
}

// Monitor schedules engine cycles on a fixed interval.
// Params: engine, rule source, settings store, and cycle interval.
// Returns: start/stop controlled polling loop.
type Monitor struct {
	engine      *engine.Engine
	rules       RuleSource
	settings    *settings.Store
	clock       clock.Clock
	logger      *slog.Logger
	interval    time.Duration
	recentLimit int

	mu             sync.Mutex
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
	checkCount     uint64
	errorCount     uint64
	lastError      string
	lastCycleAt    time.Time
	currentMatches []domain.MatchedServer
	recentMatches  []domain.MatchedServer
}

// NewMonitor creates a stopped monitor.
// Params: engine, rule source, settings store, clock, logger, interval,
// and recent-match history limit.
// Returns: initialized monitor.
func NewMonitor(
	eng *engine.Engine,
	ruleSource RuleSource,
	settingsStore *settings.Store,
	clk clock.Clock,
	logger *slog.Logger,
	interval time.Duration,
	recentLimit int,
) *Monitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		engine:      eng,
		rules:       ruleSource,
		settings:    settingsStore,
		clock:       clk,
		logger:      logger,
		interval:    interval,
		recentLimit: recentLimit,
	}
}

// Start launches the polling loop when not already running.
// Params: parent context bounding the loop lifetime.
// Returns: true when the loop was started by this call.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.logger.Info("monitor started", "interval", m.interval.String())
	go m.loop(loopCtx, done)
	return true
}

// Stop cancels the polling loop and waits for the current cycle.
// Params: none.
// Returns: true when a running loop was stopped.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("monitor stopped")
	return true
}

// Running reports whether the polling loop is active.
// Params: none.
// Returns: run flag.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns a snapshot of counters and match history.
// Params: none.
// Returns: copied status payload.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MonitorStatus{
		Running:        m.running,
		CheckCount:     m.checkCount,
		ErrorCount:     m.errorCount,
		LastError:      m.lastError,
		LastCycleAt:    m.lastCycleAt,
		CurrentMatches: append([]domain.MatchedServer(nil), m.currentMatches...),
		RecentMatches:  append([]domain.MatchedServer(nil), m.recentMatches...),
	}
}

// RunOnce executes one cycle outside the scheduler.
// Params: context bounding the cycle.
// Returns: cycle result and error, with counters updated as usual.
func (m *Monitor) RunOnce(ctx context.Context) (domain.CycleResult, error) {
	return m.runCycle(ctx)
}

// loop runs cycles until the context is cancelled.
// Params: loop context and completion channel.
// Returns: nothing; the first cycle runs immediately.
func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.done = nil
		m.mu.Unlock()
		close(done)
	}()

	if m.cycleAndMaybeStop(ctx) {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.cycleAndMaybeStop(ctx) {
				return
			}
		}
	}
}

// cycleAndMaybeStop runs one cycle and decides whether the loop ends.
// Params: loop context.
// Returns: true after an auto-join; joining a game ends monitoring until
// the user starts it again.
func (m *Monitor) cycleAndMaybeStop(ctx context.Context) bool {
	result, err := m.runCycle(ctx)
	if err != nil {
		return false
	}
	if result.AutoJoined != nil {
		m.logger.Info("auto-join performed, monitor stopping",
			"server", result.AutoJoined.Address,
			"map", result.AutoJoined.Map,
		)
		return true
	}
	return false
}

// runCycle executes one engine pass and records its outcome.
// Params: context bounding the cycle.
// Returns: cycle result and engine error.
func (m *Monitor) runCycle(ctx context.Context) (domain.CycleResult, error) {
	rules := m.rules.List()
	notifySettings := m.settings.Get()

	result, err := m.engine.RunCycle(ctx, rules, notifySettings)

	m.mu.Lock()
	m.checkCount++
	m.lastCycleAt = m.clock.Now()
	if err != nil {
		m.errorCount++
		m.lastError = err.Error()
	} else {
		m.lastError = ""
	}
	m.currentMatches = append([]domain.MatchedServer(nil), result.CurrentMatches...)
	if len(result.Matched) > 0 {
		m.recentMatches = append(result.Matched, m.recentMatches...)
		if m.recentLimit > 0 && len(m.recentMatches) > m.recentLimit {
			m.recentMatches = m.recentMatches[:m.recentLimit]
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("monitor cycle failed", "error", err.Error())
	}
	return result, err
}
