package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mapwatch/internal/clock"
	"mapwatch/internal/domain"
)

type fakeProvider struct {
	mu           sync.Mutex
	observations map[string]domain.ServerObservation
	failing      map[string]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		observations: make(map[string]domain.ServerObservation),
		failing:      make(map[string]bool),
	}
}

func (p *fakeProvider) set(address, mapName string, players int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observations[address] = domain.ServerObservation{
		Address:     address,
		Online:      true,
		Name:        "srv " + address,
		Map:         mapName,
		Players:     players,
		MaxPlayers:  64,
		RealPlayers: players,
	}
	delete(p.failing, address)
}

func (p *fakeProvider) fail(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[address] = true
}

func (p *fakeProvider) Query(_ context.Context, address string) (domain.ServerObservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing[address] {
		return domain.ServerObservation{}, errors.New("connection refused")
	}
	observation, ok := p.observations[address]
	if !ok {
		return domain.ServerObservation{}, errors.New("no route to host")
	}
	return observation, nil
}

type recordNotifier struct {
	mu      sync.Mutex
	matches []domain.MatchedServer
}

func (n *recordNotifier) Dispatch(_ context.Context, match domain.MatchedServer, _ domain.NotifySettings) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matches = append(n.matches, match)
}

func (n *recordNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.matches)
}

type recordJoiner struct {
	mu        sync.Mutex
	addresses []string
}

func (j *recordJoiner) Join(address string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.addresses = append(j.addresses, address)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRule(id string, servers []string, patterns []string) domain.MonitorRule {
	return domain.MonitorRule{
		ID:              id,
		Name:            "rule " + id,
		Enabled:         true,
		SelectedServers: servers,
		MapPatterns:     patterns,
		MinPlayers:      0,
		CooldownSeconds: 0,
		RequiredMatches: 1,
	}
}

func TestRunCycleNotifiesAfterRequiredConsecutiveMatches(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.set("10.0.0.1:27015", "ze_mako_reactor", 10)
	notifier := &recordNotifier{}
	manual := clock.NewManual(time.Unix(1_750_000_000, 0).UTC())
	eng := New(provider, notifier, nil, manual, testLogger(), time.Second)

	rule := testRule("r1", []string{"10.0.0.1:27015"}, []string{"ze_*"})
	rule.RequiredMatches = 2
	rules := []domain.MonitorRule{rule}

	result, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if len(result.CurrentMatches) != 1 {
		t.Fatalf("cycle 1: expected one current match, got %d", len(result.CurrentMatches))
	}
	if len(result.Matched) != 0 {
		t.Fatalf("cycle 1: expected no notification below required matches, got %d", len(result.Matched))
	}

	result, err = eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if len(result.Matched) != 1 {
		t.Fatalf("cycle 2: expected one notification, got %d", len(result.Matched))
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one dispatched notification, got %d", notifier.count())
	}

	match := result.Matched[0]
	if match.Map != "ze_mako_reactor" || match.Pattern != "ze_*" || match.RuleID != "r1" {
		t.Fatalf("unexpected match payload: %+v", match)
	}
}

func TestRunCycleMapChangeResetsConsecutiveCount(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	notifier := &recordNotifier{}
	eng := New(provider, notifier, nil, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)

	rule := testRule("r1", []string{"10.0.0.1:27015"}, []string{"ze_*"})
	rule.RequiredMatches = 2
	rules := []domain.MonitorRule{rule}

	provider.set("10.0.0.1:27015", "ze_mako", 10)
	if _, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{}); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}

	// Different matching map restarts the streak at 1.
	provider.set("10.0.0.1:27015", "ze_boat", 10)
	result, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if len(result.Matched) != 0 {
		t.Fatal("expected map change to restart the consecutive count")
	}

	provider.set("10.0.0.1:27015", "ze_boat", 10)
	result, err = eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if len(result.Matched) != 1 {
		t.Fatalf("expected notification on second consecutive sighting, got %d", len(result.Matched))
	}
}

func TestRunCycleSuppressesDuplicateUntilMapChanges(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.set("10.0.0.1:27015", "ze_mako", 10)
	notifier := &recordNotifier{}
	eng := New(provider, notifier, nil, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)

	rules := []domain.MonitorRule{testRule("r1", []string{"10.0.0.1:27015"}, []string{"ze_*"})}
	settings := domain.NotifySettings{}

	for cycle := 0; cycle < 3; cycle++ {
		if _, err := eng.RunCycle(context.Background(), rules, settings); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
	}
	if notifier.count() != 1 {
		t.Fatalf("expected single notification for unchanged map, got %d", notifier.count())
	}

	// Map rotates away and back; the same map becomes notifiable again.
	provider.set("10.0.0.1:27015", "de_dust2", 10)
	if _, err := eng.RunCycle(context.Background(), rules, settings); err != nil {
		t.Fatalf("rotation cycle: %v", err)
	}
	provider.set("10.0.0.1:27015", "ze_mako", 10)
	if _, err := eng.RunCycle(context.Background(), rules, settings); err != nil {
		t.Fatalf("return cycle: %v", err)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected re-notification after map rotation, got %d", notifier.count())
	}
}

func TestRunCycleCooldownBlocksAcrossMapChanges(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	notifier := &recordNotifier{}
	manual := clock.NewManual(time.Unix(1_750_000_000, 0).UTC())
	eng := New(provider, notifier, nil, manual, testLogger(), time.Second)

	rule := testRule("r1", []string{"10.0.0.1:27015"}, []string{"ze_*"})
	rule.CooldownSeconds = 300
	rules := []domain.MonitorRule{rule}

	provider.set("10.0.0.1:27015", "ze_mako", 10)
	if _, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{}); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected first notification, got %d", notifier.count())
	}

	provider.set("10.0.0.1:27015", "ze_boat", 10)
	manual.Advance(time.Minute)
	if _, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{}); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatal("expected cooldown to block notification for new matching map")
	}

	manual.Advance(5 * time.Minute)
	if _, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{}); err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected notification after cooldown expiry, got %d", notifier.count())
	}
}

func TestRunCycleMinPlayersGate(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	notifier := &recordNotifier{}
	eng := New(provider, notifier, nil, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)

	rule := testRule("r1", []string{"10.0.0.1:27015"}, []string{"ze_*"})
	rule.MinPlayers = 20
	rule.RequiredMatches = 2
	rules := []domain.MonitorRule{rule}

	provider.set("10.0.0.1:27015", "ze_mako", 30)
	if _, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{}); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}

	// Dip below min players drops the streak.
	provider.set("10.0.0.1:27015", "ze_mako", 5)
	result, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if len(result.CurrentMatches) != 0 {
		t.Fatal("expected no current match below min players")
	}

	provider.set("10.0.0.1:27015", "ze_mako", 30)
	result, err = eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if len(result.Matched) != 0 {
		t.Fatal("expected streak restart after player dip")
	}
}

func TestRunCycleOfflineServerClearsStreak(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	notifier := &recordNotifier{}
	eng := New(provider, notifier, nil, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)

	rule := testRule("r1", []string{"10.0.0.1:27015"}, []string{"ze_*"})
	rule.RequiredMatches = 2
	rules := []domain.MonitorRule{rule}

	provider.set("10.0.0.1:27015", "ze_mako", 10)
	if _, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{}); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}

	provider.fail("10.0.0.1:27015")
	result, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("offline cycle must not fail the whole run: %v", err)
	}
	if len(result.CurrentMatches) != 0 {
		t.Fatal("expected no current match for offline server")
	}

	provider.set("10.0.0.1:27015", "ze_mako", 10)
	result, err = eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if len(result.Matched) != 0 {
		t.Fatal("expected streak restart after offline gap")
	}
}

func TestRunCycleFirstPatternWins(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.set("10.0.0.1:27015", "ze_mako_reactor", 10)
	notifier := &recordNotifier{}
	eng := New(provider, notifier, nil, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)

	rules := []domain.MonitorRule{
		testRule("r1", []string{"10.0.0.1:27015"}, []string{"*reactor", "ze_*"}),
	}
	result, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(result.Matched) != 1 {
		t.Fatalf("expected one match, got %d", len(result.Matched))
	}
	if result.Matched[0].Pattern != "*reactor" {
		t.Fatalf("expected first listed pattern to win, got %q", result.Matched[0].Pattern)
	}
}

func TestRunCycleRulesTrackIndependently(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.set("10.0.0.1:27015", "ze_mako", 10)
	notifier := &recordNotifier{}
	eng := New(provider, notifier, nil, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)

	fast := testRule("fast", []string{"10.0.0.1:27015"}, []string{"ze_*"})
	slow := testRule("slow", []string{"10.0.0.1:27015"}, []string{"ze_*"})
	slow.RequiredMatches = 3
	rules := []domain.MonitorRule{fast, slow}

	result, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if len(result.Matched) != 1 || result.Matched[0].RuleID != "fast" {
		t.Fatalf("expected only the fast rule to notify on cycle 1, got %+v", result.Matched)
	}

	if _, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{}); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	result, err = eng.RunCycle(context.Background(), rules, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if len(result.Matched) != 1 || result.Matched[0].RuleID != "slow" {
		t.Fatalf("expected the slow rule to notify on cycle 3, got %+v", result.Matched)
	}
}

func TestRunCycleAutoJoinsAtMostOneServer(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.set("10.0.0.1:27015", "ze_mako", 10)
	provider.set("10.0.0.2:27015", "ze_boat", 12)
	notifier := &recordNotifier{}
	joiner := &recordJoiner{}
	eng := New(provider, notifier, joiner, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)

	rule := testRule("r1", []string{"10.0.0.1:27015", "10.0.0.2:27015"}, []string{"ze_*"})
	rule.AutoJoin = true
	result, err := eng.RunCycle(context.Background(), []domain.MonitorRule{rule}, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(result.Matched) != 2 {
		t.Fatalf("expected both servers to notify, got %d", len(result.Matched))
	}
	if result.AutoJoined == nil {
		t.Fatal("expected auto-join result")
	}
	if result.AutoJoined.Address != "10.0.0.1:27015" {
		t.Fatalf("expected first evaluated server to be joined, got %q", result.AutoJoined.Address)
	}
	if len(joiner.addresses) != 1 {
		t.Fatalf("expected exactly one join call, got %d", len(joiner.addresses))
	}
}

func TestRunCycleDisabledRulesAreSkipped(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.set("10.0.0.1:27015", "ze_mako", 10)
	notifier := &recordNotifier{}
	eng := New(provider, notifier, nil, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)

	disabled := testRule("r1", []string{"10.0.0.1:27015"}, []string{"ze_*"})
	disabled.Enabled = false
	noPatterns := testRule("r2", []string{"10.0.0.1:27015"}, nil)

	result, err := eng.RunCycle(context.Background(), []domain.MonitorRule{disabled, noPatterns}, domain.NotifySettings{})
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(result.CurrentMatches) != 0 || len(result.Matched) != 0 {
		t.Fatal("expected no evaluation for disabled or patternless rules")
	}
}

func TestRunCycleWithoutProviderFails(t *testing.T) {
	t.Parallel()

	eng := New(nil, &recordNotifier{}, nil, clock.NewManual(time.Unix(1_750_000_000, 0).UTC()), testLogger(), time.Second)
	rules := []domain.MonitorRule{testRule("r1", []string{"10.0.0.1:27015"}, []string{"ze_*"})}

	if _, err := eng.RunCycle(context.Background(), rules, domain.NotifySettings{}); err == nil {
		t.Fatal("expected error when provider is not configured")
	}
}
