package container

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pest-scan/config"
	app "pest-scan/internal/application"
	"pest-scan/internal/domain/port"
	"pest-scan/internal/infrastructure/detection"
	"pest-scan/internal/infrastructure/metrics"
	"pest-scan/internal/infrastructure/preview"
	"pest-scan/internal/infrastructure/storage"
	"pest-scan/internal/infrastructure/telemetry"
	"pest-scan/internal/infrastructure/vision"
)

type Container struct {
	ScanService   *app.ScanService
	IntakeService *app.IntakeService
	Registry      *prometheus.Registry
	Logger        *slog.Logger

	flush func()
}

func New(sessions port.SessionRepository, previews port.PreviewStore, detector port.PestDetector, inspector port.ImageInspector, scanCfg app.ScanConfig, policy app.IntakePolicy) *Container {
	scanService := app.NewScanService(sessions, previews, detector, scanCfg)
	intakeService := app.NewIntakeService(scanService, inspector, policy)

	return &Container{
		ScanService:   scanService,
		IntakeService: intakeService,
		Logger:        scanCfg.Logger,
	}
}

// FromConfig собирает инфраструктуру по конфигурации
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	registry := prometheus.NewRegistry()
	scanMetrics, err := metrics.NewScanMetrics(registry)
	if err != nil {
		return nil, err
	}

	detector, err := buildDetector(cfg, logger)
	if err != nil {
		return nil, err
	}

	var reporter port.FailureReporter = telemetry.NewLogReporter(logger)
	flush := func() {}
	if cfg.SentryDSN != "" {
		sentryReporter, err := telemetry.NewSentryReporter(telemetry.SentryOptions{
			DSN:         cfg.SentryDSN,
			Environment: cfg.SentryEnv,
			Release:     "pest-scan",
		}, logger)
		if err != nil {
			return nil, err
		}
		reporter = sentryReporter
		flush = func() { sentryReporter.Flush(2 * time.Second) }
	}

	c := New(
		storage.NewMemorySessionRepository(),
		preview.NewCacheStore(strings.TrimRight(cfg.PublicURL, "/"), 5*time.Minute),
		detector,
		vision.NewInspector(),
		app.ScanConfig{
			AnalysisTimeout: cfg.AnalysisTimeout,
			Reporter:        reporter,
			Observer:        scanMetrics,
			Logger:          logger,
		},
		app.IntakePolicy{
			MaxImageBytes: cfg.MaxImageBytes,
			StrictFormats: cfg.StrictFormats,
		},
	)
	c.Registry = registry
	c.flush = flush
	return c, nil
}

// Close останавливает анализы и отправляет накопленные события
func (c *Container) Close() {
	c.ScanService.Close()
	if c.flush != nil {
		c.flush()
	}
}

func buildDetector(cfg *config.Config, logger *slog.Logger) (port.PestDetector, error) {
	var detector port.PestDetector
	switch cfg.Detector {
	case config.DetectorRemote:
		remote := detection.NewRemoteDetector(cfg.InferenceURL, nil)
		// Проверяем доступность сервиса инференса
		if err := remote.CheckHealth(context.Background()); err != nil {
			logger.Warn("inference service not available", "url", cfg.InferenceURL, "error", err)
		}
		detector = remote
	default:
		stub, err := detection.NewStubDetector(cfg.StubDelay)
		if err != nil {
			return nil, fmt.Errorf("create stub detector: %w", err)
		}
		detector = stub
	}

	if cfg.QualityGate {
		detector = detection.NewQualityGatedDetector(vision.NewQualityGate(), detector)
	}
	return detector, nil
}
