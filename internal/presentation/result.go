// Package presentation отрисовывает результат определения вредителя.
// Функции пакета чистые: состояние сессии они не меняют.
package presentation

import (
	"fmt"
	"strings"

	"pest-scan/internal/domain/entity"
)

// SeverityStyle визуальный вес уровня опасности
type SeverityStyle struct {
	Weight int    // high > medium > low > неизвестный
	Tone   string // CSS-класс
	Icon   string // alert или shield
	Label  string // "MEDIUM SEVERITY"
}

// SeverityWeight сопоставляет уровню опасности его вес и оформление
func SeverityWeight(sev entity.Severity) SeverityStyle {
	label := strings.ToUpper(string(sev)) + " SEVERITY"
	switch sev {
	case entity.SeverityHigh:
		return SeverityStyle{Weight: 3, Tone: "severity-high", Icon: "alert", Label: label}
	case entity.SeverityMedium:
		return SeverityStyle{Weight: 2, Tone: "severity-medium", Icon: "alert", Label: label}
	case entity.SeverityLow:
		return SeverityStyle{Weight: 1, Tone: "severity-low", Icon: "shield", Label: label}
	default:
		return SeverityStyle{Weight: 0, Tone: "severity-unknown", Icon: "shield", Label: label}
	}
}

// FormatConfidence переводит уверенность в проценты с одним знаком: 0.89 → "89.0%"
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.1f%%", confidence*100)
}

// ResultView модель страницы результата
type ResultView struct {
	PestName       string
	Description    string
	Confidence     string
	Severity       SeverityStyle
	ImageURL       string
	Pesticides     []entity.Pesticide
	ControlMethods []entity.ControlMethod
	NewScanAction  string // единственное действие со страницы
}

// NewResultView собирает модель; порядок препаратов и методов не меняется
func NewResultView(result *entity.DetectionResult, preview entity.PreviewHandle, newScanAction string) ResultView {
	return ResultView{
		PestName:       result.PestName,
		Description:    result.Description,
		Confidence:     FormatConfidence(result.Confidence),
		Severity:       SeverityWeight(result.Severity),
		ImageURL:       preview.URL,
		Pesticides:     append([]entity.Pesticide(nil), result.Pesticides...),
		ControlMethods: append([]entity.ControlMethod(nil), result.ControlMethods...),
		NewScanAction:  newScanAction,
	}
}
