package detection

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

//go:embed catalog.yaml
var catalogYAML []byte

// DefaultStubDelay задержка заглушки по умолчанию
const DefaultStubDelay = 2 * time.Second

// StubDetector возвращает фиксированный ответ после задержки
type StubDetector struct {
	delay  time.Duration
	result entity.DetectionResult
}

// NewStubDetector создаёт заглушку с ответом из встроенного каталога
func NewStubDetector(delay time.Duration) (*StubDetector, error) {
	result, err := LoadResult(catalogYAML)
	if err != nil {
		return nil, fmt.Errorf("load stub catalog: %w", err)
	}
	return &StubDetector{delay: delay, result: *result}, nil
}

// LoadResult разбирает YAML с результатом детекции и проверяет его
func LoadResult(data []byte) (*entity.DetectionResult, error) {
	var result entity.DetectionResult
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// Detect ждёт задержку и возвращает копию ответа
func (d *StubDetector) Detect(ctx context.Context, asset *entity.ImageAsset) (*entity.DetectionResult, error) {
	_ = asset

	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return d.result.Clone(), nil
}

// Проверка реализации интерфейса
var _ port.PestDetector = (*StubDetector)(nil)
