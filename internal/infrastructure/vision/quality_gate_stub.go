//go:build !gocv
// +build !gocv

package vision

import "context"

// QualityGate без OpenCV пропускает все снимки.
type QualityGate struct {
	MaxSide               int
	MinImageSide          int
	MinSharpnessEdgeRatio float64
	MaxOverexposedRatio   float64
	MaxUnderexposedRatio  float64
	MaxGlareRatio         float64
	// MinLeafCoverage — минимальная доля зелёных пикселей (лист в кадре)
	MinLeafCoverage float64
}

// NewQualityGate создаёт фильтр-заглушку (без OpenCV).
func NewQualityGate() *QualityGate {
	return &QualityGate{
		MaxSide:               1024,
		MinImageSide:          224,
		MinSharpnessEdgeRatio: 0.008,
		MaxOverexposedRatio:   0.35,
		MaxUnderexposedRatio:  0.45,
		MaxGlareRatio:         0.08,
		MinLeafCoverage:       0.12,
	}
}

// Check в сборке без тега gocv проверяет только отмену контекста.
func (g *QualityGate) Check(ctx context.Context, imageData []byte) error {
	_ = imageData
	return ctx.Err()
}
