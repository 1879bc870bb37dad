package app

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
	"mapwatch/internal/engine"
	"mapwatch/internal/settings"
)

type staticRules struct {
	rules []domain.MonitorRule
}

func (s *staticRules) List() []domain.MonitorRule {
	out := make([]domain.MonitorRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule.Clone())
	}
	return out
}

type mapProvider struct {
	mu      sync.Mutex
	mapName string
	players int
	fail    bool
}

func (p *mapProvider) set(mapName string, players int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mapName = mapName
	p.players = players
}

func (p *mapProvider) Query(_ context.Context, address string) (domain.ServerObservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return domain.ServerObservation{}, errors.New("unreachable")
	}
	return domain.ServerObservation{
		Address:     address,
		Online:      true,
		Name:        "srv",
		Map:         p.mapName,
		Players:     p.players,
		MaxPlayers:  64,
		RealPlayers: p.players,
	}, nil
}

type noopJoiner struct {
	mu    sync.Mutex
	joins int
}

func (j *noopJoiner) Join(string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.joins++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func monitorRule(autoJoin bool) domain.MonitorRule {
	return domain.MonitorRule{
		ID:              "r1",
		Name:            "test rule",
		Enabled:         true,
		SelectedServers: []string{"10.0.0.1:27015"},
		MapPatterns:     []string{"ze_*"},
		RequiredMatches: 1,
		AutoJoin:        autoJoin,
	}
}

func newTestMonitor(provider engine.StateProvider, joiner engine.Joiner, rule domain.MonitorRule, recentLimit int) *Monitor {
	manual := clock.NewManual(time.Unix(1_750_000_000, 0).UTC())
	eng := engine.New(provider, nil, joiner, manual, discardLogger(), time.Second)
	return NewMonitor(
		eng,
		&staticRules{rules: []domain.MonitorRule{rule}},
		settings.NewStore(domain.NotifySettings{}, nil),
		manual,
		discardLogger(),
		time.Hour,
		recentLimit,
	)
}

func TestMonitorRunOnceRecordsMatches(t *testing.T) {
	t.Parallel()

	provider := &mapProvider{mapName: "ze_mako", players: 10}
	monitor := newTestMonitor(provider, nil, monitorRule(false), 10)

	result, err := monitor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(result.Matched) != 1 {
		t.Fatalf("expected one match, got %d", len(result.Matched))
	}

	status := monitor.Status()
	if status.CheckCount != 1 || status.ErrorCount != 0 {
		t.Fatalf("unexpected counters: %+v", status)
	}
	if len(status.CurrentMatches) != 1 || len(status.RecentMatches) != 1 {
		t.Fatalf("unexpected match history: current=%d recent=%d", len(status.CurrentMatches), len(status.RecentMatches))
	}
	if status.LastCycleAt.IsZero() {
		t.Fatal("expected last cycle timestamp set")
	}
}

func TestMonitorRecentMatchesNewestFirstAndTrimmed(t *testing.T) {
	t.Parallel()

	provider := &mapProvider{players: 10}
	monitor := newTestMonitor(provider, nil, monitorRule(false), 2)

	for _, mapName := range []string{"ze_first", "ze_second", "ze_third"} {
		provider.set(mapName, 10)
		if _, err := monitor.RunOnce(context.Background()); err != nil {
			t.Fatalf("cycle %q: %v", mapName, err)
		}
	}

	status := monitor.Status()
	if len(status.RecentMatches) != 2 {
		t.Fatalf("expected history trimmed to 2, got %d", len(status.RecentMatches))
	}
	if status.RecentMatches[0].Map != "ze_third" || status.RecentMatches[1].Map != "ze_second" {
		t.Fatalf("expected newest-first order, got %q then %q",
			status.RecentMatches[0].Map, status.RecentMatches[1].Map)
	}
}

func TestMonitorCountsCycleErrors(t *testing.T) {
	t.Parallel()

	monitor := newTestMonitor(nil, nil, monitorRule(false), 10)

	if _, err := monitor.RunOnce(context.Background()); err == nil {
		t.Fatal("expected cycle error without provider")
	}
	status := monitor.Status()
	if status.ErrorCount != 1 || status.LastError == "" {
		t.Fatalf("unexpected error counters: %+v", status)
	}
}

func TestMonitorStartStopLifecycle(t *testing.T) {
	t.Parallel()

	provider := &mapProvider{mapName: "de_dust2", players: 10}
	monitor := newTestMonitor(provider, nil, monitorRule(false), 10)

	if !monitor.Start(context.Background()) {
		t.Fatal("expected first start to succeed")
	}
	if monitor.Start(context.Background()) {
		t.Fatal("expected second start to be rejected")
	}

	waitFor(t, func() bool { return monitor.Status().CheckCount >= 1 })

	if !monitor.Stop() {
		t.Fatal("expected stop to succeed")
	}
	if monitor.Running() {
		t.Fatal("expected monitor stopped")
	}
	if monitor.Stop() {
		t.Fatal("expected second stop to be rejected")
	}
}

func TestMonitorStopsAfterAutoJoin(t *testing.T) {
	t.Parallel()

	provider := &mapProvider{mapName: "ze_mako", players: 10}
	joiner := &noopJoiner{}
	monitor := newTestMonitor(provider, joiner, monitorRule(true), 10)

	if !monitor.Start(context.Background()) {
		t.Fatal("expected start to succeed")
	}
	waitFor(t, func() bool { return !monitor.Running() })

	joiner.mu.Lock()
	joins := joiner.joins
	joiner.mu.Unlock()
	if joins != 1 {
		t.Fatalf("expected one join call, got %d", joins)
	}
}

// waitFor polls a condition until it holds or the test deadline hits.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
