package detection

import (
	"context"
	"fmt"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

// Gate проверка снимка перед анализом
type Gate interface {
	Check(ctx context.Context, imageData []byte) error
}

// QualityGatedDetector отклоняет плохие снимки до обращения к детектору
type QualityGatedDetector struct {
	gate Gate
	next port.PestDetector
}

// NewQualityGatedDetector оборачивает next проверкой gate
func NewQualityGatedDetector(gate Gate, next port.PestDetector) *QualityGatedDetector {
	return &QualityGatedDetector{gate: gate, next: next}
}

func (d *QualityGatedDetector) Detect(ctx context.Context, asset *entity.ImageAsset) (*entity.DetectionResult, error) {
	if err := d.gate.Check(ctx, asset.Data); err != nil {
		return nil, fmt.Errorf("quality gate: %w", err)
	}
	return d.next.Detect(ctx, asset)
}

var _ port.PestDetector = (*QualityGatedDetector)(nil)
