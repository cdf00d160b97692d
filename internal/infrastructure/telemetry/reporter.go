// Package telemetry отправляет ошибки детектора в Sentry или в журнал.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

// LogReporter пишет ошибки только в журнал
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("component", "telemetry")}
}

func (r *LogReporter) Report(ctx context.Context, failure *entity.DetectionFailure) {
	r.logger.ErrorContext(ctx, "detection failure",
		"session_id", failure.SessionID,
		"asset_id", failure.AssetID,
		"error", failure.Err)
}

// SentryOptions параметры клиента Sentry
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	Transport   sentry.Transport // для тестов
}

// SentryReporter отправляет ошибки в Sentry и дублирует их в журнал
type SentryReporter struct {
	hub *sentry.Hub
	log *LogReporter
}

// NewSentryReporter создаёт отдельный hub, не трогая глобальный клиент
func NewSentryReporter(opts SentryOptions, logger *slog.Logger) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		Transport:        opts.Transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			// изображения и данные пользователя не уходят наружу
			event.User = sentry.User{}
			event.ServerName = ""
			return event
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	return &SentryReporter{
		hub: sentry.NewHub(client, sentry.NewScope()),
		log: NewLogReporter(logger),
	}, nil
}

func (r *SentryReporter) Report(ctx context.Context, failure *entity.DetectionFailure) {
	r.log.Report(ctx, failure)

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("component", "scan-controller")
		scope.SetTag("session_id", failure.SessionID)
		scope.SetTag("asset_id", failure.AssetID)
		scope.SetTag("cause", causeTag(failure.Err))
		r.hub.CaptureException(failure)
	})
}

// Flush дожидается отправки событий
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

func causeTag(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, entity.ErrInvalidResult):
		return "invalid-result"
	default:
		return "backend"
	}
}

var (
	_ port.FailureReporter = (*LogReporter)(nil)
	_ port.FailureReporter = (*SentryReporter)(nil)
)
