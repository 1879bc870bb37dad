package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mapwatch/internal/clock"
	"mapwatch/internal/config"
	"mapwatch/internal/domain"
	"mapwatch/internal/engine"
	"mapwatch/internal/events"
	"mapwatch/internal/logging"
	"mapwatch/internal/notify"
	"mapwatch/internal/query"
	"mapwatch/internal/rules"
	"mapwatch/internal/settings"
	"mapwatch/internal/steam"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config file path and shared runtime components.
// Returns: runnable monitor service.
type Service struct {
	cfgPath    string
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	ruleStore  *rules.FileStore
	settings   *settings.Store
	dispatcher *notify.Dispatcher
	publisher  events.Publisher
	monitor    *Monitor
	clock      clock.Clock
}

// NewService builds the service from one config file.
// Params: config path, desktop toast callback, and clock implementation.
// Returns: initialized service or setup error.
func NewService(configPath string, toast notify.ToastFunc, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	ruleStore, err := rules.NewFileStore(cfg.Rules.Path)
	if err != nil {
		closeLog()
		return nil, err
	}

	settingsStore := settings.NewStore(cfg.Notify, func(next domain.NotifySettings) error {
		return config.SaveNotifySettings(configPath, cfg, next)
	})

	dispatcher := notify.NewDispatcher(logger, toast)

	service := &Service{
		cfgPath:    configPath,
		cfg:        cfg,
		logger:     logger,
		closeLog:   closeLog,
		ruleStore:  ruleStore,
		settings:   settingsStore,
		dispatcher: dispatcher,
		clock:      clk,
	}

	if cfg.Events.Enabled {
		publisher, err := events.NewNATSPublisher(events.Config{
			URL:     cfg.Events.URL,
			Stream:  cfg.Events.Stream,
			Subject: cfg.Events.Subject,
		})
		if err != nil {
			service.cleanupInitResources()
			return nil, err
		}
		service.publisher = publisher
	}

	notifier := &fanoutNotifier{
		dispatcher: dispatcher,
		publisher:  service.publisher,
		logger:     logger,
	}
	eng := engine.New(
		query.NewA2SClient(time.Duration(cfg.Query.TimeoutSec)*time.Second),
		notifier,
		steam.NewLauncher(),
		clk,
		logger,
		time.Duration(cfg.Query.TimeoutSec)*time.Second,
	)
	service.monitor = NewMonitor(
		eng,
		ruleStore,
		settingsStore,
		clk,
		logger,
		time.Duration(cfg.Service.IntervalSec)*time.Second,
		cfg.Service.RecentMatchLimit,
	)

	return service, nil
}

// Run starts the monitor and blocks until a shutdown signal.
// Params: root context for the service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.Service.AutoStart {
		s.monitor.Start(runCtx)
	} else {
		s.logger.Info("monitor idle, waiting for start")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
	case <-sigChan:
	}
	return s.shutdown()
}

// Monitor exposes the scheduler for the management surface.
// Params: none.
// Returns: monitor instance.
func (s *Service) Monitor() *Monitor {
	return s.monitor
}

// Rules exposes the rule store for the management surface.
// Params: none.
// Returns: rule store instance.
func (s *Service) Rules() *rules.FileStore {
	return s.ruleStore
}

// Settings exposes the settings store for the management surface.
// Params: none.
// Returns: settings store instance.
func (s *Service) Settings() *settings.Store {
	return s.settings
}

// Dispatcher exposes channel testing for the management surface.
// Params: none.
// Returns: notification dispatcher instance.
func (s *Service) Dispatcher() *notify.Dispatcher {
	return s.dispatcher
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	var firstErr error
	s.monitor.Stop()
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("events publisher close failed", "error", err.Error())
			firstErr = err
		}
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.publisher != nil {
		_ = s.publisher.Close()
		s.publisher = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// fanoutNotifier forwards one match to the dispatcher and the event bus.
// Params: channel dispatcher and optional NATS publisher.
// Returns: engine notifier implementation.
type fanoutNotifier struct {
	dispatcher *notify.Dispatcher
	publisher  events.Publisher
	logger     *slog.Logger
}

// Dispatch delivers one match to channels, then publishes the match event.
// Params: context, matched server, and settings snapshot.
// Returns: nothing; publish failure is logged and does not block channels.
func (n *fanoutNotifier) Dispatch(ctx context.Context, match domain.MatchedServer, notifySettings domain.NotifySettings) {
	n.dispatcher.Dispatch(ctx, match, notifySettings)
	if n.publisher == nil {
		return
	}
	if err := n.publisher.PublishMatch(ctx, match); err != nil {
		n.logger.Warn("match event publish failed",
			"rule", match.RuleName,
			"server", match.Address,
			"error", err.Error(),
		)
	}
}
