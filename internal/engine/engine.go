package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mapwatch/internal/clock"
	"mapwatch/internal/domain"
)

// StateProvider supplies one live server snapshot per address.
// Params: context with per-server deadline and host:port address.
// Returns: observation or transport error (treated as offline).
type StateProvider interface {
	Query(ctx context.Context, address string) (domain.ServerObservation, error)
}

// Notifier fans one actionable match out to every enabled channel.
// Params: context, match payload, and settings snapshot.
// Returns: nothing; channel failures are handled inside the dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, match domain.MatchedServer, settings domain.NotifySettings)
}

// Joiner performs the auto-join side effect.
// Params: matched server address.
// Returns: join error, logged but never surfaced as a cycle error.
type Joiner interface {
	Join(address string) error
}

// Engine evaluates monitor rules against live server state once per cycle.
// Params: injected provider/notifier/joiner and engine-owned tracker.
// Returns: deterministic cycle results for the scheduling caller.
type Engine struct {
	provider     StateProvider
	notifier     Notifier
	joiner       Joiner
	tracker      *Tracker
	clock        clock.Clock
	logger       *slog.Logger
	queryTimeout time.Duration
}

// New constructs the monitor engine with an empty tracker.
// Params: provider, notifier, joiner, clock, logger, per-server timeout.
// Returns: initialized engine instance.
func New(
	provider StateProvider,
	notifier Notifier,
	joiner Joiner,
	clk clock.Clock,
	logger *slog.Logger,
	queryTimeout time.Duration,
) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:     provider,
		notifier:     notifier,
		joiner:       joiner,
		tracker:      NewTracker(clk.Now),
		clock:        clk,
		logger:       logger,
		queryTimeout: queryTimeout,
	}
}

// Tracker exposes the engine-owned match state for tests and diagnostics.
// Params: none.
// Returns: the single tracker instance mutated by RunCycle.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// RunCycle executes one full rule-evaluation pass.
// Params: context, rule snapshot, and notification settings snapshot.
// Returns: cycle result (partial on error) and cycle-level error.
func (e *Engine) RunCycle(ctx context.Context, rules []domain.MonitorRule, settings domain.NotifySettings) (domain.CycleResult, error) {
	result := domain.CycleResult{
		Matched:        make([]domain.MatchedServer, 0),
		CurrentMatches: make([]domain.MatchedServer, 0),
	}

	active := activeRules(rules)
	if len(active) == 0 {
		return result, nil
	}
	if e.provider == nil {
		return result, errors.New("server state provider is not configured")
	}

	observations := e.observe(ctx, active)

	for _, rule := range active {
		for _, address := range rule.SelectedServers {
			observation, ok := observations[address]
			if !ok {
				observation = domain.OfflineObservation(address)
			}
			e.evaluateServer(ctx, rule, observation, settings, &result)
		}
	}
	return result, nil
}

// evaluateServer applies one rule to one server observation.
// Params: rule, fresh observation, settings snapshot, and result accumulator.
// Returns: tracker mutations plus appended matches/notifications.
func (e *Engine) evaluateServer(
	ctx context.Context,
	rule domain.MonitorRule,
	observation domain.ServerObservation,
	settings domain.NotifySettings,
	result *domain.CycleResult,
) {
	key := Key{RuleID: rule.ID, Server: observation.Address}
	// This cycle's map becomes next cycle's previous-seen value, written
	// after every dedup read regardless of the match outcome.
	defer e.tracker.UpdatePreviousSeen(key, observation.Map)

	if !observation.Online || observation.RealPlayers < rule.MinPlayers {
		e.tracker.Clear(key)
		return
	}

	pattern, matched := firstMatchingPattern(rule.MapPatterns, observation.Map)
	if !matched {
		e.tracker.Clear(key)
		return
	}

	candidate := domain.MatchedServer{
		Address:    observation.Address,
		ServerName: observation.Name,
		Map:        observation.Map,
		Players:    observation.RealPlayers,
		MaxPlayers: observation.MaxPlayers,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Pattern:    pattern,
		MatchedAt:  e.clock.Now(),
	}
	result.CurrentMatches = append(result.CurrentMatches, candidate)

	count := e.tracker.RecordObservation(key, observation.Map)
	if count < rule.RequiredMatches {
		return
	}

	cooldown := time.Duration(rule.CooldownSeconds) * time.Second
	if e.tracker.IsCoolingDown(key, cooldown) || e.tracker.IsDuplicate(key, observation.Map) {
		return
	}

	if rule.AutoJoin && result.AutoJoined == nil {
		candidate.AutoJoin = true
	}
	result.Matched = append(result.Matched, candidate)
	e.tracker.MarkNotified(key, observation.Map)
	e.logger.Info("map rule matched",
		"rule", rule.Name,
		"server", observation.Address,
		"map", observation.Map,
		"players", observation.RealPlayers,
		"pattern", pattern,
	)
	if e.notifier != nil {
		e.notifier.Dispatch(ctx, candidate, settings)
	}

	if candidate.AutoJoin {
		autoJoined := candidate
		result.AutoJoined = &autoJoined
		if e.joiner != nil {
			if err := e.joiner.Join(observation.Address); err != nil {
				e.logger.Warn("auto-join failed", "server", observation.Address, "error", err.Error())
			}
		}
	}
}

// observe queries every selected server once, deduplicated across rules.
// Params: context and active rule list.
// Returns: observation per address; failures become offline observations.
func (e *Engine) observe(ctx context.Context, rules []domain.MonitorRule) map[string]domain.ServerObservation {
	addresses := unionAddresses(rules)
	observations := make(map[string]domain.ServerObservation, len(addresses))
	for _, address := range addresses {
		observations[address] = e.queryOne(ctx, address)
	}
	return observations
}

// queryOne obtains one observation with the per-server timeout applied.
// Params: cycle context and server address.
// Returns: live observation or offline placeholder on failure.
func (e *Engine) queryOne(ctx context.Context, address string) domain.ServerObservation {
	queryCtx := ctx
	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}
	observation, err := e.provider.Query(queryCtx, address)
	if err != nil {
		e.logger.Debug("server query failed", "server", address, "error", err.Error())
		return domain.OfflineObservation(address)
	}
	observation.Address = address
	return observation
}

// activeRules filters to enabled rules carrying at least one pattern.
// Params: full rule snapshot.
// Returns: rules in declaration order.
func activeRules(rules []domain.MonitorRule) []domain.MonitorRule {
	active := make([]domain.MonitorRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Evaluable() {
			active = append(active, rule)
		}
	}
	return active
}

// unionAddresses collects selected servers across rules without duplicates.
// Params: active rule list.
// Returns: addresses in first-seen order for deterministic querying.
func unionAddresses(rules []domain.MonitorRule) []string {
	seen := make(map[string]struct{})
	addresses := make([]string, 0)
	for _, rule := range rules {
		for _, address := range rule.SelectedServers {
			if _, ok := seen[address]; ok {
				continue
			}
			seen[address] = struct{}{}
			addresses = append(addresses, address)
		}
	}
	return addresses
}

// firstMatchingPattern evaluates patterns in list order.
// Params: ordered pattern list and observed map name.
// Returns: winning pattern and match flag; first match wins.
func firstMatchingPattern(patterns []string, mapName string) (string, bool) {
	for _, pattern := range patterns {
		if Matches(mapName, pattern) {
			return pattern, true
		}
	}
	return "", false
}
