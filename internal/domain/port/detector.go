package port

import (
	"context"

	"pest-scan/internal/domain/entity"
)

// PestDetector интерфейс внешнего детектора вредителей
type PestDetector interface {
	// Detect анализирует изображение и возвращает результат определения.
	// Время ответа не ограничено; вызывающий отменяет через ctx.
	Detect(ctx context.Context, asset *entity.ImageAsset) (*entity.DetectionResult, error)
}

// ImageInspector интерфейс проверки содержимого изображения
type ImageInspector interface {
	// Inspect распознаёт формат по байтам и возвращает его имя ("jpeg", "png", "webp")
	Inspect(data []byte) (format string, err error)
}
