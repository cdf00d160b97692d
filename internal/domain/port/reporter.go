package port

import (
	"context"

	"pest-scan/internal/domain/entity"
)

// FailureReporter интерфейс приёмника ошибок детектора
type FailureReporter interface {
	// Report отправляет ошибку в систему наблюдения; сам не возвращает ошибок
	Report(ctx context.Context, failure *entity.DetectionFailure)
}

// Исходы вызова детектора
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale" // ответ пришёл, когда сессия его уже не ждала
)

// ScanObserver получает события сессий для метрик
type ScanObserver interface {
	Transition(state entity.SessionState)
	DetectionResolved(outcome string, seconds float64)
	PreviewsLive(delta int)
}
