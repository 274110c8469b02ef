package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/librescoot/uart-wakeup-service/internal/config"
	"github.com/librescoot/uart-wakeup-service/internal/coordinator"
	"github.com/librescoot/uart-wakeup-service/internal/logging"
	"github.com/librescoot/uart-wakeup-service/internal/metrics"
	"github.com/librescoot/uart-wakeup-service/internal/power"
	"github.com/librescoot/uart-wakeup-service/internal/status"
	"github.com/librescoot/uart-wakeup-service/internal/uart"
	"github.com/librescoot/uart-wakeup-service/internal/wakeup"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Service struct {
	config *config.Config
	logger *zap.Logger

	driver       *uart.Driver
	powerManager *power.Manager
	lock         *power.Lock
	configurator *wakeup.Configurator
	coordinator  *coordinator.Coordinator

	publisher *status.Publisher
	registry  *prometheus.Registry
}

func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	service := &Service{
		config: cfg,
		logger: logger,
	}

	driver, err := uart.Install(cfg.UART(), logger.Named(logging.TagUART))
	if err != nil {
		return nil, fmt.Errorf("failed to install uart driver: %w", err)
	}
	service.driver = driver

	backend, err := newBackend(cfg)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to create power lock backend: %w", err)
	}
	service.powerManager = power.NewManager(logger.Named(logging.TagPM), backend, cfg.SysfsRoot, cfg.DryRun)
	service.lock = service.powerManager.NewLock(power.LockAPBFreqMax, cfg.LockName)

	wakeupLogger := logger.Named(logging.TagWakeup)
	service.configurator = wakeup.NewConfigurator(
		wakeupLogger,
		wakeup.NewRegistry(wakeupLogger, cfg.SysfsRoot, cfg.DryRun),
		driver,
		cfg.DryRun,
	)

	opts := []coordinator.Option{
		coordinator.WithBufferSize(cfg.ReadBufSize),
		coordinator.WithReadTimeout(cfg.ReadTimeout),
	}

	if cfg.MetricsAddr != "" {
		service.registry = metrics.NewRegistry()
		opts = append(opts, coordinator.WithObserver(metrics.New(service.registry, driver.Events(), service.lock)))
	}

	if cfg.RedisHost != "" {
		publisher, err := status.New(context.Background(), status.Config{
			Host: cfg.RedisHost,
			Port: cfg.RedisPort,
			Line: cfg.Line,
		}, logger.Named(logging.TagStatus))
		if err != nil {
			service.close()
			return nil, err
		}
		service.publisher = publisher
		opts = append(opts, coordinator.WithObserver(publisher))
	}

	service.coordinator = coordinator.New(
		driver.Events(),
		driver,
		service.lock,
		logger.Named(logging.TagUART),
		opts...,
	)
	return service, nil
}

func newBackend(cfg *config.Config) (power.Backend, error) {
	if cfg.DryRun {
		return power.NopBackend{}, nil
	}
	switch cfg.LockBackend {
	case config.BackendWakelock:
		b, err := power.NewWakelockBackend(cfg.SysfsRoot)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendLogind:
		b, err := power.NewLogindBackend("uart-wakeup")
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendNone:
		return power.NopBackend{}, nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
}

// Run applies the wakeup policy and services serial events until ctx is done.
// A policy that cannot be applied is returned as an error.
func (s *Service) Run(ctx context.Context) error {
	defer s.close()

	if err := s.configurator.Setup(s.config.Wakeup(), s.powerManager); err != nil {
		return fmt.Errorf("failed to apply power policy: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.InitializeState(s.driver.PortName(), s.driver.WakeupThreshold()); err != nil {
			s.logger.Warn("Failed to publish initial state", zap.Error(err))
		}
		s.publisher.Start()
	}

	if s.registry != nil {
		server := &http.Server{
			Addr:              s.config.MetricsAddr,
			Handler:           s.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.logger.Info("Serving metrics", zap.String("addr", s.config.MetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	s.driver.Start(ctx)

	err := s.coordinator.Run(ctx)
	stats := s.coordinator.Stats()
	s.logger.Info("Coordinator stopped",
		zap.Uint64("bytes", stats.Bytes),
		zap.Uint64("resets", stats.Resets),
		zap.Uint64("failures", stats.Failures),
		zap.Uint64("dropped", s.driver.Events().Dropped()))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(s.registry))
	return mux
}

func (s *Service) close() {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("Failed to close Redis clients", zap.Error(err))
		}
	}
	if s.configurator != nil {
		if err := s.configurator.Close(); err != nil {
			s.logger.Warn("Failed to release wakeup pin", zap.Error(err))
		}
	}
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			s.logger.Warn("Failed to close uart driver", zap.Error(err))
		}
	}
	if s.powerManager != nil {
		if err := s.powerManager.Close(); err != nil {
			s.logger.Warn("Failed to close power manager", zap.Error(err))
		}
	}
}
